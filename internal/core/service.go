package core

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/ingest"
	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/JonMunkholm/ProgramUpload/internal/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultUploadTimeout is the maximum duration of one upload when the
// options leave it unset.
const DefaultUploadTimeout = 10 * time.Minute

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 50

// Options configures a Service.
type Options struct {
	MaxConcurrent   int
	MaxWait         time.Duration
	UploadTimeout   time.Duration
	DefaultTimezone string

	// Registerer receives the upload metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Service runs program uploads against a store: it bounds concurrency,
// applies the upload timeout, records history and metrics, and maps the
// engine's results for callers.
type Service struct {
	engine          *ingest.Engine
	limiter         *UploadLimiter
	metrics         *Metrics
	timeout         time.Duration
	defaultTimezone string
	logger          *slog.Logger
}

// NewService creates a Service over st.
func NewService(st store.Store, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}

	s := &Service{
		engine:          ingest.NewEngine(st, logger),
		limiter:         NewUploadLimiter(opts.MaxConcurrent, opts.MaxWait),
		timeout:         opts.UploadTimeout,
		defaultTimezone: opts.DefaultTimezone,
		logger:          logger,
	}
	if opts.Registerer != nil {
		s.metrics = NewMetrics(opts.Registerer)
		RegisterLimiter(opts.Registerer, s.limiter)
	}
	return s
}

// Limiter returns the service's upload limiter.
func (s *Service) Limiter() *UploadLimiter { return s.limiter }

// UploadProgram parses and reconciles one program file into its conference.
// Uploads of the same conference run one at a time.
func (s *Service) UploadProgram(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	return s.upload(ctx, req, false)
}

// PreviewProgram reports what UploadProgram would create and reuse without
// writing any program records. The attempt is still recorded in history.
func (s *Service) PreviewProgram(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	return s.upload(ctx, req, true)
}

func (s *Service) upload(ctx context.Context, req ingest.Request, dryRun bool) (*ingest.Result, error) {
	format, err := ingest.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Timezone) == "" {
		req.Timezone = s.defaultTimezone
	}

	release, err := s.acquire(ctx, req.ConferenceID, dryRun)
	if err != nil {
		s.metrics.observeUpload(format.String(), dryRun, err, 0)
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	var res *ingest.Result
	if dryRun {
		res, err = s.engine.PreviewProgram(ctx, req)
	} else {
		res, err = s.engine.UploadProgram(ctx, req)
	}
	elapsed := time.Since(started)

	s.metrics.observeUpload(format.String(), dryRun, err, elapsed)
	if err == nil {
		s.metrics.observeSummary(res.Summary)
	}
	s.recordHistory(ctx, req.ConferenceID, format.String(), dryRun, started, elapsed, res, err)
	return res, err
}

// acquire takes the conference lock for writes; previews only need a slot.
func (s *Service) acquire(ctx context.Context, conferenceID string, dryRun bool) (func(), error) {
	if dryRun {
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		return s.limiter.Release, nil
	}
	return s.limiter.AcquireConference(ctx, conferenceID)
}

func (s *Service) recordHistory(ctx context.Context, conferenceID, format string, dryRun bool, started time.Time, elapsed time.Duration, res *ingest.Result, uploadErr error) {
	client := ClientFromContext(ctx)
	rec := store.UploadRecord{
		ID:           uuid.New(),
		ConferenceID: conferenceID,
		Format:       format,
		Status:       ingest.StatusOK,
		DryRun:       dryRun,
		StartedAt:    started.UTC(),
		Duration:     elapsed,
		ClientIP:     client.IP,
		UserAgent:    client.UserAgent,
	}
	if uploadErr != nil {
		rec.Status = "failed"
		rec.Error = uploadErr.Error()
	} else if res != nil && res.Summary != nil {
		rec.Summary = res.Summary.Counts()
	}

	// History outlives the upload's own deadline.
	ctx = context.WithoutCancel(ctx)
	if err := s.engine.Store().Uploads().Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record upload history",
			"conference_id", conferenceID,
			"upload_id", rec.ID,
			"error", err,
		)
	}
}

// History lists the conference's most recent upload attempts, newest first.
func (s *Service) History(ctx context.Context, conferenceID string, limit int) ([]store.UploadRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.engine.Store().Uploads().List(ctx, conferenceID, limit)
}

// UploadRoomStreams applies a room stream settings table to the conference.
func (s *Service) UploadRoomStreams(ctx context.Context, conferenceID string, content []byte) (*ingest.RoomStreamResult, error) {
	release, err := s.limiter.AcquireConference(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.engine.UploadRoomStreams(ctx, conferenceID, content)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RoomStreamUpdates.Add(float64(res.Updated))
	}
	return res, nil
}

// ReassignAuthors replaces an item's authors, keeping persons' item lists
// in step.
func (s *Service) ReassignAuthors(ctx context.Context, conferenceID string, itemID uuid.UUID, personIDs []uuid.UUID) (*program.Item, error) {
	release, err := s.limiter.AcquireConference(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.engine.ReassignAuthors(ctx, conferenceID, itemID, personIDs)
}

// WaitForUploads blocks until in-flight uploads finish or ctx is done.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
