package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cuihairu/abmetrics/internal/analytics/mq"
	"github.com/cuihairu/abmetrics/internal/objstore"
)

// Artifact is one rendered report ready for delivery.
type Artifact struct {
	RunID  string
	Name   string
	Format Format
	At     time.Time
	Body   []byte
}

// Filename is name_YYYYMMDD_HHMMSS.ext.
func (a Artifact) Filename() string {
	return fmt.Sprintf("%s_%s.%s", a.Name, a.At.Format("20060102_150405"), a.Format.Ext())
}

// Sink delivers artifacts somewhere.
type Sink interface {
	Deliver(ctx context.Context, a Artifact) error
}

// DirSink writes artifacts under a local directory.
type DirSink struct{ Dir string }

func (s DirSink) Deliver(_ context.Context, a Artifact) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	p := filepath.Join(s.Dir, a.Filename())
	if err := os.WriteFile(p, a.Body, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

// StoreSink archives artifacts in object storage under prefix/run_id/.
type StoreSink struct {
	Store  objstore.Store
	Prefix string
}

// Key is the object key for a.
func (s StoreSink) Key(a Artifact) string {
	return path.Join(s.Prefix, a.RunID, a.Name+"."+a.Format.Ext())
}

func (s StoreSink) Deliver(ctx context.Context, a Artifact) error {
	return s.Store.Put(ctx, s.Key(a), bytes.NewReader(a.Body), int64(len(a.Body)), a.Format.ContentType())
}

// QueueSink publishes artifacts keyed run_id/name.
type QueueSink struct{ Queue mq.Queue }

func (s QueueSink) Deliver(ctx context.Context, a Artifact) error {
	return s.Queue.PublishReport(ctx, a.RunID+"/"+a.Name, a.Body)
}

// Publisher renders a run and hands every artifact to each sink.
type Publisher struct {
	Format Format
	Sinks  []Sink
	Log    *slog.Logger
}

// Publish delivers every result of run. Delivery failures are collected and
// returned together after all sinks were tried.
func (p *Publisher) Publish(ctx context.Context, run *Run) ([]Artifact, error) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	at := run.FinishedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var errs []error
	arts := make([]Artifact, 0, len(run.Results))
	for _, res := range run.Results {
		var buf bytes.Buffer
		if err := Render(&buf, p.Format, run.ID, at, res); err != nil {
			return arts, fmt.Errorf("render %s: %w", res.Spec.Name, err)
		}
		a := Artifact{RunID: run.ID, Name: res.Spec.Name, Format: p.Format, At: at, Body: buf.Bytes()}
		arts = append(arts, a)
		for _, s := range p.Sinks {
			if err := s.Deliver(ctx, a); err != nil {
				log.Warn("deliver report", "report", a.Name, "sink", fmt.Sprintf("%T", s), "err", err)
				errs = append(errs, fmt.Errorf("deliver %s: %w", a.Name, err))
			}
		}
	}
	return arts, errors.Join(errs...)
}
