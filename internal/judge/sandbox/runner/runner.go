// Package runner orchestrates compile and run workflows for one submission.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arbiter/internal/judge/sandbox"
	"arbiter/internal/judge/sandbox/engine"
	"arbiter/internal/judge/sandbox/observer"
	"arbiter/internal/judge/sandbox/profile"
	"arbiter/internal/judge/sandbox/result"
	apperrors "arbiter/pkg/errors"
)

const defaultCompileTimeout = 30 * time.Second

// DefaultRunner implements sandbox.Service on top of an Engine.
// It follows a strict acquire/execute/release discipline: the environment
// is torn down on every exit path, whichever test case decided the outcome.
type DefaultRunner struct {
	engine  engine.Engine
	metrics observer.MetricsRecorder
}

// NewDefaultRunner creates a runner.
func NewDefaultRunner(eng engine.Engine, metrics observer.MetricsRecorder) (*DefaultRunner, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if metrics == nil {
		metrics = observer.Nop{}
	}
	return &DefaultRunner{engine: eng, metrics: metrics}, nil
}

// Judge executes one submission against its fixture and classifies the
// outcome. Verdicts are results, not errors; an error return means the
// infrastructure failed and the attempt may be retried.
func (r *DefaultRunner) Judge(ctx context.Context, req sandbox.JudgeRequest) (result.JudgeResult, error) {
	res := result.JudgeResult{SubmissionID: req.SubmissionID}

	if err := req.Language.Validate(); err != nil {
		return res, apperrors.Wrap(err, apperrors.LanguageNotSupported)
	}
	if req.TimeLimitMS <= 0 {
		return res, apperrors.New(apperrors.InvalidParams).WithMessage("time limit must be positive")
	}
	if len(req.Tests) == 0 {
		return res, apperrors.New(apperrors.InvalidParams).WithMessage("fixture is empty")
	}
	res.TotalTests = len(req.Tests)

	env, err := r.engine.Provision(ctx, engine.EnvSpec{
		SubmissionID:  req.SubmissionID,
		BaseImage:     req.Language.BaseImage,
		MemoryLimitMB: req.MemoryLimitMB,
	})
	if err != nil {
		return res, apperrors.Wrap(err, apperrors.SandboxCreateFailed)
	}
	defer func() {
		_ = env.Release(context.WithoutCancel(ctx))
	}()

	if err := env.WriteFile(ctx, req.Language.SourceFileName, req.Source); err != nil {
		return res, apperrors.Wrap(err, apperrors.SandboxExecFailed)
	}

	if req.Language.CompileEnabled() {
		compileRes, err := r.compile(ctx, env, req.Language)
		res.Compile = &compileRes
		if err != nil {
			return res, err
		}
		if !compileRes.OK {
			res.Verdict = result.VerdictCE
			return res, nil
		}
	}

	timeLimit := time.Duration(req.TimeLimitMS) * time.Millisecond
	for _, test := range req.Tests {
		run, err := env.Exec(ctx, engine.ExecRequest{
			Command: req.Language.RunCommand,
			Stdin:   test.Input,
			Timeout: timeLimit,
		})
		if err != nil {
			return res, apperrors.Wrap(err, apperrors.SandboxExecFailed)
		}

		res.LastTestIndex = test.Index
		res.ObservedOutput = run.Stdout

		verdict := r.classify(ctx, env, run, test)
		r.metrics.ObserveRun(ctx, req.Language.ID, string(verdict), test.Index, run.TimeMs)
		if verdict != result.VerdictAC {
			res.Verdict = verdict
			return res, nil
		}
	}

	res.Verdict = result.VerdictAC
	res.ObservedOutput = ""
	return res, nil
}

func (r *DefaultRunner) compile(ctx context.Context, env engine.Env, lang profile.LanguageSpec) (result.CompileResult, error) {
	timeout := defaultCompileTimeout
	if lang.CompileTimeoutMS > 0 {
		timeout = time.Duration(lang.CompileTimeoutMS) * time.Millisecond
	}

	run, err := env.Exec(ctx, engine.ExecRequest{
		Command: lang.CompileCommand,
		Timeout: timeout,
	})
	if err != nil {
		return result.CompileResult{}, apperrors.Wrap(err, apperrors.SandboxExecFailed)
	}

	compileRes := result.CompileResult{
		OK:       !run.TimedOut && run.ExitCode == 0,
		ExitCode: run.ExitCode,
		TimeMs:   run.TimeMs,
		Log:      run.Stderr,
	}
	if run.TimedOut {
		compileRes.Log = "compilation timed out"
	}
	r.metrics.ObserveCompile(ctx, lang.ID, compileRes.OK, run.TimeMs)
	return compileRes, nil
}

// classify maps one raw run onto a verdict for that test case.
func (r *DefaultRunner) classify(ctx context.Context, env engine.Env, run result.RunResult, test sandbox.TestcaseSpec) result.Verdict {
	if run.TimedOut {
		return result.VerdictTLE
	}
	if run.ExitCode != 0 {
		if run.OomKilled {
			return result.VerdictMLE
		}
		if oom, err := env.OomKilled(ctx); err == nil && oom {
			return result.VerdictMLE
		}
		return result.VerdictRE
	}
	if NormalizeOutput(run.Stdout) != NormalizeOutput(test.Expected) {
		return result.VerdictWA
	}
	return result.VerdictAC
}

// NormalizeOutput canonicalizes program output before comparison:
// CRLF becomes LF, trailing whitespace per line is dropped, and trailing
// blank lines are ignored.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimRight(out, "\n")
}

var _ sandbox.Service = (*DefaultRunner)(nil)
