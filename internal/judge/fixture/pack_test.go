package fixture_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"arbiter/internal/judge/fixture"
	"arbiter/internal/judge/sandbox"
	appErr "arbiter/pkg/errors"
)

func TestBuildPackParsePackRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []sandbox.TestcaseSpec{
		{Index: 1, Input: "1 2\n", Expected: "3\n"},
		{Index: 2, Input: "4 5\n", Expected: "9\n"},
		{Index: 3, Input: "a,b \"quoted\"", Expected: "multi\nline"},
	}

	var buf bytes.Buffer
	if err := fixture.BuildPack(&buf, tests); err != nil {
		t.Fatalf("build pack failed: %v", err)
	}

	dec, err := zstd.NewReader(&buf)
	if err != nil {
		t.Fatalf("zstd reader failed: %v", err)
	}
	defer dec.Close()

	got, err := fixture.ParsePack(dec)
	if err != nil {
		t.Fatalf("parse pack failed: %v", err)
	}
	if len(got) != len(tests) {
		t.Fatalf("expected %d tests, got %d", len(tests), len(got))
	}
	for i, test := range tests {
		if got[i].Index != i+1 {
			t.Fatalf("test %d: expected index %d, got %d", i, i+1, got[i].Index)
		}
		if got[i].Input != test.Input || got[i].Expected != test.Expected {
			t.Fatalf("test %d: round trip mismatch: %+v", i, got[i])
		}
	}
}

func TestBuildPackEmpty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := fixture.BuildPack(&buf, nil)
	if err == nil || !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected InvalidParams, got %v", err)
	}
}

func TestParsePackEmpty(t *testing.T) {
	t.Parallel()
	_, err := fixture.ParsePack(strings.NewReader(""))
	if err == nil || !appErr.Is(err, appErr.FixtureCorrupted) {
		t.Fatalf("expected FixtureCorrupted, got %v", err)
	}
}

func TestParsePackBadRecord(t *testing.T) {
	t.Parallel()
	_, err := fixture.ParsePack(strings.NewReader("only-one-field\n"))
	if err == nil || !appErr.Is(err, appErr.FixtureCorrupted) {
		t.Fatalf("expected FixtureCorrupted, got %v", err)
	}
}
