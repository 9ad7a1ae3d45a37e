package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/store"
)

// StatusOK is the status of a successful upload.
const StatusOK = "ok"

// Request is one program upload.
type Request struct {
	Content      []byte
	ConferenceID string
	Timezone     string
	Format       string
}

// Result is returned by a successful upload.
type Result struct {
	Status  string   `json:"status"`
	Format  string   `json:"format"`
	DryRun  bool     `json:"dryRun,omitempty"`
	Summary *Summary `json:"summary"`
}

// UploadProgram parses req.Content in the declared format and reconciles it
// into the conference. An unknown format fails with *FormatError before any
// parsing. On a reconciliation failure the returned error is the stage's
// error; earlier stages stay applied and the upload can be re-run.
func (e *Engine) UploadProgram(ctx context.Context, req Request) (*Result, error) {
	g, err := Parse(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sum, err := e.Reconcile(ctx, req.ConferenceID, g)
	if err != nil {
		return nil, err
	}
	e.logger.Info("program uploaded",
		"conference_id", req.ConferenceID,
		"format", g.Format.String(),
		"summary", sum.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Result{Status: StatusOK, Format: g.Format.String(), Summary: sum}, nil
}

// PreviewProgram runs the full upload against a write-discarding overlay of
// the engine's store. Nothing is persisted.
func (e *Engine) PreviewProgram(ctx context.Context, req Request) (*Result, error) {
	dry := &Engine{store: store.NewOverlay(e.store), logger: e.logger.With("dry_run", true)}
	res, err := dry.UploadProgram(ctx, req)
	if err != nil {
		return nil, err
	}
	res.DryRun = true
	return res, nil
}

// Parse validates the request and runs the matching parser.
func Parse(req Request) (*Graph, error) {
	format, err := ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ConferenceID) == "" {
		return nil, fmt.Errorf("conference id is required")
	}
	loc, err := LoadZone(req.Timezone)
	if err != nil {
		return nil, &ParseError{Format: format, Reason: "invalid time zone", Err: err}
	}
	parser, err := format.Parser()
	if err != nil {
		return nil, err
	}
	return parser.Parse(req.Content, loc)
}
