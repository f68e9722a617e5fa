package runner_test

import (
	"context"
	"strings"
	"testing"

	"arbiter/internal/judge/sandbox"
	"arbiter/internal/judge/sandbox/engine"
	"arbiter/internal/judge/sandbox/profile"
	"arbiter/internal/judge/sandbox/result"
	"arbiter/internal/judge/sandbox/runner"
)

type fakeEnv struct {
	// runs is consumed per Exec call; compile steps consume first.
	runs      []result.RunResult
	execs     []engine.ExecRequest
	oomKilled bool
	released  bool
	files     map[string][]byte
}

func (f *fakeEnv) ID() string { return "env-test" }

func (f *fakeEnv) WriteFile(ctx context.Context, path string, content []byte) error {
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[path] = content
	return nil
}

func (f *fakeEnv) Exec(ctx context.Context, req engine.ExecRequest) (result.RunResult, error) {
	f.execs = append(f.execs, req)
	if len(f.runs) == 0 {
		return result.RunResult{}, nil
	}
	run := f.runs[0]
	f.runs = f.runs[1:]
	return run, nil
}

func (f *fakeEnv) OomKilled(ctx context.Context) (bool, error) {
	return f.oomKilled, nil
}

func (f *fakeEnv) Release(ctx context.Context) error {
	f.released = true
	return nil
}

type fakeEngine struct {
	env *fakeEnv
}

func (f *fakeEngine) Provision(ctx context.Context, spec engine.EnvSpec) (engine.Env, error) {
	return f.env, nil
}

var pythonSpec = profile.LanguageSpec{
	ID:             "python",
	BaseImage:      "python:3.12-alpine",
	SourceFileName: "main.py",
	RunCommand:     "python3 main.py",
}

var cppSpec = profile.LanguageSpec{
	ID:             "cpp",
	BaseImage:      "gcc:14",
	SourceFileName: "main.cpp",
	CompileCommand: "g++ -O2 -o main main.cpp",
	RunCommand:     "./main",
}

func newTestRunner(t *testing.T, env *fakeEnv) *runner.DefaultRunner {
	t.Helper()
	r, err := runner.NewDefaultRunner(&fakeEngine{env: env}, nil)
	if err != nil {
		t.Fatalf("new runner failed: %v", err)
	}
	return r
}

func request(lang profile.LanguageSpec, tests ...sandbox.TestcaseSpec) sandbox.JudgeRequest {
	return sandbox.JudgeRequest{
		SubmissionID:  "sub-1",
		Language:      lang,
		Source:        []byte("print(input())"),
		TimeLimitMS:   1000,
		MemoryLimitMB: 256,
		Tests:         tests,
	}
}

func TestJudgeAcceptedRunsEveryTest(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{runs: []result.RunResult{
		{ExitCode: 0, Stdout: "1\n"},
		{ExitCode: 0, Stdout: "2\n"},
		{ExitCode: 0, Stdout: "3\n"},
	}}
	res, err := newTestRunner(t, env).Judge(context.Background(), request(pythonSpec,
		sandbox.TestcaseSpec{Index: 1, Input: "1", Expected: "1"},
		sandbox.TestcaseSpec{Index: 2, Input: "2", Expected: "2"},
		sandbox.TestcaseSpec{Index: 3, Input: "3", Expected: "3"},
	))
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Verdict != result.VerdictAC {
		t.Fatalf("expected AC, got %s", res.Verdict)
	}
	if res.TotalTests != 3 || res.LastTestIndex != 3 {
		t.Fatalf("expected 3/3 tests, got %d/%d", res.LastTestIndex, res.TotalTests)
	}
	if res.ObservedOutput != "" {
		t.Fatal("accepted runs must not retain program output")
	}
	if !env.released {
		t.Fatal("environment must be released")
	}
}

func TestJudgeWrongAnswerStopsAtFirstMismatch(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{runs: []result.RunResult{
		{ExitCode: 0, Stdout: "ok\n"},
		{ExitCode: 0, Stdout: "nope\n"},
		{ExitCode: 0, Stdout: "never reached\n"},
	}}
	res, err := newTestRunner(t, env).Judge(context.Background(), request(pythonSpec,
		sandbox.TestcaseSpec{Index: 1, Input: "a", Expected: "ok"},
		sandbox.TestcaseSpec{Index: 2, Input: "b", Expected: "yes"},
		sandbox.TestcaseSpec{Index: 3, Input: "c", Expected: "ok"},
	))
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Verdict != result.VerdictWA {
		t.Fatalf("expected WA, got %s", res.Verdict)
	}
	if res.LastTestIndex != 2 {
		t.Fatalf("expected the verdict on test 2, got %d", res.LastTestIndex)
	}
	if len(env.execs) != 2 {
		t.Fatalf("judging must stop at the first mismatch, ran %d tests", len(env.execs))
	}
	if res.ObservedOutput != "nope\n" {
		t.Fatalf("expected the deciding output, got %q", res.ObservedOutput)
	}
}

func TestJudgeTimeLimitExceeded(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{runs: []result.RunResult{
		{TimedOut: true, ExitCode: -1},
	}}
	res, err := newTestRunner(t, env).Judge(context.Background(), request(pythonSpec,
		sandbox.TestcaseSpec{Index: 1, Input: "x", Expected: "y"},
		sandbox.TestcaseSpec{Index: 2, Input: "x", Expected: "y"},
	))
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Verdict != result.VerdictTLE {
		t.Fatalf("expected TLE, got %s", res.Verdict)
	}
	if len(env.execs) != 1 {
		t.Fatalf("a timeout must stop judging immediately, ran %d tests", len(env.execs))
	}
}

func TestJudgeMemoryLimitExceeded(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{
		runs:      []result.RunResult{{ExitCode: 137}},
		oomKilled: true,
	}
	res, err := newTestRunner(t, env).Judge(context.Background(), request(pythonSpec,
		sandbox.TestcaseSpec{Index: 1, Input: "x", Expected: "y"},
	))
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Verdict != result.VerdictMLE {
		t.Fatalf("expected MLE, got %s", res.Verdict)
	}
}

func TestJudgeRuntimeError(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{runs: []result.RunResult{{ExitCode: 1, Stderr: "panic"}}}
	res, err := newTestRunner(t, env).Judge(context.Background(), request(pythonSpec,
		sandbox.TestcaseSpec{Index: 1, Input: "x", Expected: "y"},
	))
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Verdict != result.VerdictRE {
		t.Fatalf("expected RE, got %s", res.Verdict)
	}
}

func TestJudgeCompilationErrorSkipsTests(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{runs: []result.RunResult{
		{ExitCode: 1, Stderr: "main.cpp:1: error: expected ';'"},
	}}
	res, err := newTestRunner(t, env).Judge(context.Background(), request(cppSpec,
		sandbox.TestcaseSpec{Index: 1, Input: "x", Expected: "y"},
	))
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Verdict != result.VerdictCE {
		t.Fatalf("expected CE, got %s", res.Verdict)
	}
	if res.Compile == nil || res.Compile.OK {
		t.Fatalf("expected a failed compile result, got %+v", res.Compile)
	}
	if !strings.Contains(res.Compile.Log, "expected ';'") {
		t.Fatalf("compile log lost: %q", res.Compile.Log)
	}
	// Only the compile command ran.
	if len(env.execs) != 1 {
		t.Fatalf("tests must not run after a compile failure, ran %d commands", len(env.execs))
	}
}

func TestJudgeCompileThenRun(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{runs: []result.RunResult{
		{ExitCode: 0},
		{ExitCode: 0, Stdout: "42\n"},
	}}
	res, err := newTestRunner(t, env).Judge(context.Background(), request(cppSpec,
		sandbox.TestcaseSpec{Index: 1, Input: "41", Expected: "42"},
	))
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Verdict != result.VerdictAC {
		t.Fatalf("expected AC, got %s", res.Verdict)
	}
	if env.execs[0].Command != cppSpec.CompileCommand {
		t.Fatalf("first command must compile, got %q", env.execs[0].Command)
	}
	if env.execs[1].Command != cppSpec.RunCommand {
		t.Fatalf("second command must run, got %q", env.execs[1].Command)
	}
	if env.execs[1].Stdin != "41" {
		t.Fatalf("test input not fed, got %q", env.execs[1].Stdin)
	}
}

func TestJudgeEmptyFixtureRejected(t *testing.T) {
	t.Parallel()
	env := &fakeEnv{}
	_, err := newTestRunner(t, env).Judge(context.Background(), request(pythonSpec))
	if err == nil {
		t.Fatal("expected an error for an empty fixture")
	}
}

func TestNormalizeOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello", want: "hello"},
		{name: "crlf", in: "a\r\nb\r\n", want: "a\nb"},
		{name: "trailing-spaces", in: "a  \nb\t\n", want: "a\nb"},
		{name: "trailing-blank-lines", in: "a\nb\n\n\n", want: "a\nb"},
		{name: "interior-space-kept", in: "a b\nc", want: "a b\nc"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := runner.NormalizeOutput(tt.in); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
