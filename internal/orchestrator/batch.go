package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spherical/ocr-bench/internal/domain"
)

// BatchRequest runs several documents one after another with the same
// provider selection.
type BatchRequest struct {
	Name          string
	Paths         []string
	Providers     []string
	Configuration domain.Configuration

	// OnDocument is called after each document with the batch progress
	OnDocument func(done, total int, out *RunOutcome)
	Events     chan<- domain.StreamEvent
}

// BatchOutcome collects the per-document runs of a batch.
type BatchOutcome struct {
	Name     string        `json:"name"`
	Runs     []*RunOutcome `json:"runs"`
	Failed   int           `json:"failed"`
	Progress int           `json:"progress"`
}

// BatchName is the display name used when a batch is given none.
func (o *Orchestrator) BatchName() string {
	return "Batch Test - " + o.now().Format("2006-01-02 15:04:05")
}

// RunBatch processes every path as its own run, so each document yields its
// own history record. A failed document does not stop the batch; a cancelled
// context does.
func (o *Orchestrator) RunBatch(ctx context.Context, req BatchRequest) (*BatchOutcome, error) {
	if len(req.Paths) == 0 {
		return nil, domain.ValidationError("batch has no documents", nil)
	}

	name := req.Name
	if name == "" {
		name = o.BatchName()
	}

	out := &BatchOutcome{Name: name, Runs: make([]*RunOutcome, 0, len(req.Paths))}
	total := len(req.Paths)

	for i, path := range req.Paths {
		if ctx.Err() != nil {
			return out, ErrRunCancelled
		}

		run, err := o.Run(ctx, RunRequest{
			DocumentPath:  path,
			DocumentName:  fmt.Sprintf("%s: %s", name, filepath.Base(path)),
			Providers:     req.Providers,
			Configuration: req.Configuration,
			Events:        req.Events,
		})
		out.Runs = append(out.Runs, run)
		if err != nil {
			out.Failed++
		}

		out.Progress = (i + 1) * 100 / total
		if req.OnDocument != nil {
			req.OnDocument(i+1, total, run)
		}
	}

	return out, nil
}
