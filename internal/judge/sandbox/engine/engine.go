package engine

import (
	"context"
	"time"

	"arbiter/internal/judge/sandbox/result"
)

// Engine provisions isolated environments for judging.
type Engine interface {
	// Provision creates one environment. The caller owns it and must call
	// Release on every exit path.
	Provision(ctx context.Context, spec EnvSpec) (Env, error)
}

// Env is one isolated execution environment bound to a single submission.
type Env interface {
	// ID identifies the environment for logging and teardown.
	ID() string

	// WriteFile places content at path inside the environment workdir.
	WriteFile(ctx context.Context, path string, content []byte) error

	// Exec runs a command, feeding stdin and enforcing the timeout.
	// A timeout is reported in the result, not as an error.
	Exec(ctx context.Context, req ExecRequest) (result.RunResult, error)

	// OomKilled reports whether the environment hit its memory ceiling.
	OomKilled(ctx context.Context) (bool, error)

	// Release destroys the environment. Idempotent.
	Release(ctx context.Context) error
}

// EnvSpec configures one environment.
type EnvSpec struct {
	SubmissionID  string
	BaseImage     string
	WorkDir       string
	MemoryLimitMB int
	PidsLimit     int
}

// ExecRequest describes one command execution inside an environment.
type ExecRequest struct {
	// Command is a shell command line, split by the engine.
	Command string
	Stdin   string
	Timeout time.Duration
}
