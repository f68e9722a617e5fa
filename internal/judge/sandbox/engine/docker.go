package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/shlex"

	"arbiter/internal/judge/sandbox/result"
)

// DockerConfig controls the docker-backed engine.
type DockerConfig struct {
	// Binary is the docker client binary. Default "docker".
	Binary string

	// WorkDir is the in-container working directory. Default "/work".
	WorkDir string

	// PidsLimit caps processes per environment. Default 64.
	PidsLimit int

	// ProvisionTimeout bounds container creation. Default 30s.
	ProvisionTimeout time.Duration

	// ReleaseTimeout bounds container teardown. Default 10s.
	ReleaseTimeout time.Duration

	// MaxOutputBytes caps captured stdout/stderr per exec. Default 64KiB.
	MaxOutputBytes int64
}

func (c *DockerConfig) setDefaults() {
	if c.Binary == "" {
		c.Binary = "docker"
	}
	if c.WorkDir == "" {
		c.WorkDir = "/work"
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = 64
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = 30 * time.Second
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 10 * time.Second
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 64 << 10
	}
}

// DockerEngine provisions one container per submission through the docker
// CLI. Containers run detached with networking disabled and a hard memory
// ceiling; commands are injected with docker exec.
type DockerEngine struct {
	cfg DockerConfig
}

// NewDockerEngine creates a docker-backed engine.
func NewDockerEngine(cfg DockerConfig) *DockerEngine {
	cfg.setDefaults()
	return &DockerEngine{cfg: cfg}
}

// Provision starts a detached container for one submission.
func (e *DockerEngine) Provision(ctx context.Context, spec EnvSpec) (Env, error) {
	if spec.BaseImage == "" {
		return nil, errors.New("base image is required")
	}
	workDir := spec.WorkDir
	if workDir == "" {
		workDir = e.cfg.WorkDir
	}
	pids := spec.PidsLimit
	if pids <= 0 {
		pids = e.cfg.PidsLimit
	}

	args := []string{
		"run", "-d",
		"--network", "none",
		"--workdir", workDir,
		"--pids-limit", fmt.Sprintf("%d", pids),
		"--label", "arbiter.submission=" + spec.SubmissionID,
	}
	if spec.MemoryLimitMB > 0 {
		mem := fmt.Sprintf("%dm", spec.MemoryLimitMB)
		// Swap equals memory so the ceiling is a real OOM boundary.
		args = append(args, "--memory", mem, "--memory-swap", mem)
	}
	args = append(args, spec.BaseImage, "sleep", "infinity")

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ProvisionTimeout)
	defer cancel()

	out, err := exec.CommandContext(runCtx, e.cfg.Binary, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("docker run failed: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return nil, errors.New("docker run returned empty container id")
	}

	return &dockerEnv{engine: e, id: id, workDir: workDir}, nil
}

type dockerEnv struct {
	engine   *DockerEngine
	id       string
	workDir  string
	released atomic.Bool
}

func (d *dockerEnv) ID() string {
	return d.id
}

func (d *dockerEnv) WriteFile(ctx context.Context, filePath string, content []byte) error {
	if filePath == "" {
		return errors.New("path is required")
	}
	target := filePath
	if !strings.HasPrefix(target, "/") {
		target = path.Join(d.workDir, target)
	}
	cmd := exec.CommandContext(ctx, d.engine.cfg.Binary,
		"exec", "-i", d.id, "sh", "-c", fmt.Sprintf("cat > %s", shellQuote(target)))
	cmd.Stdin = bytes.NewReader(content)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("write file %s failed: %w (%s)", target, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *dockerEnv) Exec(ctx context.Context, req ExecRequest) (result.RunResult, error) {
	argv, err := shlex.Split(req.Command)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("split command failed: %w", err)
	}
	if len(argv) == 0 {
		return result.RunResult{}, errors.New("command is empty")
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := append([]string{"exec", "-i", d.id}, argv...)
	cmd := exec.CommandContext(execCtx, d.engine.cfg.Binary, args...)
	cmd.Stdin = strings.NewReader(req.Stdin)

	stdout := newLimitedBuffer(d.engine.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(d.engine.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := result.RunResult{
		TimeMs: elapsed.Milliseconds(),
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("docker exec failed: %w", runErr)
	}
	res.ExitCode = 0
	return res, nil
}

func (d *dockerEnv) OomKilled(ctx context.Context) (bool, error) {
	out, err := exec.CommandContext(ctx, d.engine.cfg.Binary,
		"inspect", "-f", "{{.State.OOMKilled}}", d.id).Output()
	if err != nil {
		return false, fmt.Errorf("docker inspect failed: %w", err)
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func (d *dockerEnv) Release(ctx context.Context) error {
	if !d.released.CompareAndSwap(false, true) {
		return nil
	}
	rmCtx, cancel := context.WithTimeout(ctx, d.engine.cfg.ReleaseTimeout)
	defer cancel()
	if out, err := exec.CommandContext(rmCtx, d.engine.cfg.Binary, "rm", "-f", d.id).CombinedOutput(); err != nil {
		return fmt.Errorf("docker rm failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// limitedBuffer keeps at most max bytes and silently drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int64
}

func newLimitedBuffer(max int64) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remain := b.max - int64(b.buf.Len())
	if remain > 0 {
		if int64(len(p)) > remain {
			b.buf.Write(p[:remain])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

var _ Engine = (*DockerEngine)(nil)
