package fixture

import (
	"encoding/csv"
	"io"

	"github.com/klauspost/compress/zstd"

	"arbiter/internal/judge/sandbox"
	apperrors "arbiter/pkg/errors"
)

// BuildPack writes test cases as a zstd-compressed CSV stream.
// Used by operator tooling to publish fixture packs.
func BuildPack(w io.Writer, tests []sandbox.TestcaseSpec) error {
	if len(tests) == 0 {
		return apperrors.New(apperrors.InvalidParams).WithMessage("no test cases to pack")
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return apperrors.Wrap(err, apperrors.InternalServerError)
	}

	cw := csv.NewWriter(enc)
	for _, test := range tests {
		if err := cw.Write([]string{test.Input, test.Expected}); err != nil {
			_ = enc.Close()
			return apperrors.Wrap(err, apperrors.InternalServerError)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = enc.Close()
		return apperrors.Wrap(err, apperrors.InternalServerError)
	}
	return enc.Close()
}
