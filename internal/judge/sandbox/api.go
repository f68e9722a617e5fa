// Package sandbox defines the public call interface used by the judge worker.
package sandbox

import (
	"context"

	"arbiter/internal/judge/sandbox/profile"
	"arbiter/internal/judge/sandbox/result"
)

// Service is the high-level sandbox entrypoint used by the judge layer.
type Service interface {
	Judge(ctx context.Context, req JudgeRequest) (result.JudgeResult, error)
}

// JudgeRequest contains all data needed to execute one submission.
// The fixture must be fully materialized before calling the sandbox.
type JudgeRequest struct {
	SubmissionID string
	Language     profile.LanguageSpec

	// Source is the contestant program text.
	Source []byte

	TimeLimitMS   int
	MemoryLimitMB int

	Tests []TestcaseSpec
}

// TestcaseSpec describes one test case input and expected output.
type TestcaseSpec struct {
	Index    int
	Input    string
	Expected string
}
