// Package worker runs extraction tasks on a bounded pool of isolated
// workers. Workers are normally child processes of the coordinator that
// exchange msgpack frames over their stdin and stdout: one Job frame, then
// any number of Task frames each answered by a Result frame.
package worker

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"

	"github.com/kilupskalvis/dep11gen/internal/extract"
	"github.com/kilupskalvis/dep11gen/internal/iconindex"
	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/vmihailenco/msgpack"
)

// Job carries the per-triple settings every worker needs before its first task.
type Job struct {
	MediaDir  string            `msgpack:"media_dir"`
	IconSizes []models.IconSize `msgpack:"icon_sizes"`
	// IndexPath is an icon index snapshot; empty disables index lookups.
	IndexPath string `msgpack:"index_path"`
}

// Task is one package to extract.
type Task struct {
	Seq     int             `msgpack:"seq"`
	Request extract.Request `msgpack:"request"`
}

// PackageID returns the id of the task's package.
func (t *Task) PackageID() models.PackageID {
	return t.Request.PackageID()
}

// Result answers a Task.
type Result struct {
	Seq        int                 `msgpack:"seq"`
	Components []*models.Component `msgpack:"components"`
	// Missing is set when the package archive does not exist.
	Missing bool   `msgpack:"missing"`
	Err     string `msgpack:"err"`
}

// Failed reports whether the extraction failed for a reason other than a
// missing archive.
func (r *Result) Failed() bool {
	return r.Err != "" && !r.Missing
}

// NewExtractor builds the extractor a worker uses for a job, loading the
// icon index snapshot once.
func NewExtractor(job Job, logger *slog.Logger) (*extract.DebExtractor, error) {
	x := &extract.DebExtractor{
		MediaDir:  job.MediaDir,
		IconSizes: job.IconSizes,
		Logger:    logger,
	}
	if job.IndexPath != "" {
		idx, err := iconindex.Load(job.IndexPath)
		if err != nil {
			return nil, err
		}
		x.Icons = idx
	}
	return x, nil
}

// frameWriter writes msgpack frames and flushes after each one.
type frameWriter struct {
	bw  *bufio.Writer
	enc *msgpack.Encoder
}

func newFrameWriter(w io.Writer) *frameWriter {
	bw := bufio.NewWriter(w)
	return &frameWriter{bw: bw, enc: msgpack.NewEncoder(bw)}
}

func (f *frameWriter) write(v any) error {
	if err := f.enc.Encode(v); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return f.bw.Flush()
}

func newFrameReader(r io.Reader) *msgpack.Decoder {
	return msgpack.NewDecoder(bufio.NewReader(r))
}
