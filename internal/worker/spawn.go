package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/kilupskalvis/dep11gen/internal/extract"
	"github.com/vmihailenco/msgpack"
)

// ErrWorkerDied is returned when a worker stops answering before a task completes.
var ErrWorkerDied = errors.New("worker exited unexpectedly")

// Runner executes tasks for one job. A Runner is used by a single goroutine.
type Runner interface {
	// Run extracts one task. A non-nil error means the runner is unusable.
	Run(ctx context.Context, task Task) (Result, error)
	Close() error
}

// Spawner creates runners.
type Spawner interface {
	Spawn(ctx context.Context, job Job) (Runner, error)
}

// ==================== Child processes ====================

// ProcessSpawner runs every worker as a child process of the current
// executable, invoked with Args so that it calls Serve.
type ProcessSpawner struct {
	Executable string
	Args       []string
	// Env is appended to the environment of the current process.
	Env    []string
	Stderr io.Writer
}

// NewProcessSpawner re-executes the running binary with the given arguments.
func NewProcessSpawner(args ...string) (*ProcessSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &ProcessSpawner{Executable: exe, Args: args, Stderr: os.Stderr}, nil
}

// Spawn starts a child process and sends it the job.
func (s *ProcessSpawner) Spawn(_ context.Context, job Job) (Runner, error) {
	cmd := exec.Command(s.Executable, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = s.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	p := &process{cmd: cmd, stdin: stdin, out: newFrameWriter(stdin), in: newFrameReader(stdout)}
	if err := p.out.write(&job); err != nil {
		p.kill()
		return nil, fmt.Errorf("%w: send job: %v", ErrWorkerDied, err)
	}
	return p, nil
}

type process struct {
	cmd   *exec.Cmd
	stdin io.Closer
	out   *frameWriter
	in    *msgpack.Decoder
}

func (p *process) Run(ctx context.Context, task Task) (Result, error) {
	if err := p.out.write(&task); err != nil {
		p.kill()
		return Result{}, fmt.Errorf("%w: pid %d: %v", ErrWorkerDied, p.cmd.Process.Pid, err)
	}

	type reply struct {
		res Result
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		var r reply
		r.err = p.in.Decode(&r.res)
		ch <- r
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			werr := p.kill()
			return Result{}, fmt.Errorf("%w: pid %d: %v (%v)", ErrWorkerDied, p.cmd.Process.Pid, r.err, werr)
		}
		return r.res, nil
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-ch
		p.kill()
		return Result{}, ctx.Err()
	}
}

// Close ends the worker's input and waits for it to exit.
func (p *process) Close() error {
	_ = p.stdin.Close()
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("worker pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

func (p *process) kill() error {
	_ = p.cmd.Process.Kill()
	_ = p.stdin.Close()
	return p.cmd.Wait()
}

// ==================== In-process ====================

// InlineSpawner runs tasks in the calling process. It gives no isolation
// from crashes and is meant for tests and debugging.
type InlineSpawner struct {
	// Extractor replaces the extractor built from the job when set.
	Extractor extract.Extractor
	Logger    *slog.Logger
}

func (s *InlineSpawner) Spawn(_ context.Context, job Job) (Runner, error) {
	if s.Extractor != nil {
		return &inline{x: s.Extractor}, nil
	}
	x, err := NewExtractor(job, s.Logger)
	if err != nil {
		return nil, err
	}
	return &inline{x: x}, nil
}

type inline struct {
	x extract.Extractor
}

func (r *inline) Run(ctx context.Context, task Task) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic in %s: %v", ErrWorkerDied, task.PackageID(), p)
		}
	}()
	return runTask(ctx, r.x, task), nil
}

func (r *inline) Close() error { return nil }
