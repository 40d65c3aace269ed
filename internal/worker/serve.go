package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kilupskalvis/dep11gen/internal/extract"
)

// Serve is the main loop of a worker process. It reads a Job and then Task
// frames from r until EOF, answering each with a Result frame on w.
func Serve(ctx context.Context, r io.Reader, w io.Writer, logger *slog.Logger) error {
	dec := newFrameReader(r)
	out := newFrameWriter(w)

	var job Job
	if err := dec.Decode(&job); err != nil {
		return fmt.Errorf("read job: %w", err)
	}
	x, err := NewExtractor(job, logger)
	if err != nil {
		return err
	}

	for {
		var task Task
		if err := dec.Decode(&task); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read task: %w", err)
		}
		res := runTask(ctx, x, task)
		if err := out.write(&res); err != nil {
			return fmt.Errorf("write result %d: %w", task.Seq, err)
		}
	}
}

// runTask extracts one package and folds the outcome into a Result.
func runTask(ctx context.Context, x extract.Extractor, task Task) Result {
	res := Result{Seq: task.Seq}
	cpts, err := x.Extract(ctx, task.Request)
	switch {
	case errors.Is(err, extract.ErrArchiveNotFound):
		res.Missing = true
		res.Err = err.Error()
	case err != nil:
		res.Err = err.Error()
	default:
		res.Components = cpts
	}
	return res
}
