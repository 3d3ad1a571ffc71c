/*
scheduler.go - Periodic journal audit

PURPOSE:
  Runs Engine.AuditJournal in the background and logs any purchase or
  order whose paired journal row is missing or carries the wrong amount.
  The audit only reads; fixing a reported row is an operator decision.

DESIGN:
  - One background goroutine with a configurable interval
  - Runs once immediately on Start
  - The latest report is kept for GET /api/audit/last

CONFIGURATION:
  - Interval: How often to audit (AUDIT_INTERVAL_MINUTES, default 1 hour)
  - Enabled:  Whether the scheduler is active

USAGE:
  scheduler := NewAuditScheduler(eng, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/audit.go: AuditJournal
  - handlers.go: RunAudit endpoint (manual audit)
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/warp/trade-ledger/engine"
	"go.uber.org/zap"
)

// AuditScheduler runs the journal audit on a fixed interval.
type AuditScheduler struct {
	Engine   *engine.Engine
	Log      *zap.Logger
	Interval time.Duration
	Enabled  bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	last    *engine.AuditReport
	lastRun time.Time
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(eng *engine.Engine, log *zap.Logger) *AuditScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditScheduler{
		Engine:   eng,
		Log:      log.Named("audit"),
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.Interval <= 0 {
		s.Log.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info("scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.Log.Info("scheduler stopped")
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce audits the journal now and records the report.
func (s *AuditScheduler) RunOnce(ctx context.Context) (engine.AuditReport, error) {
	start := time.Now()
	report, err := s.Engine.AuditJournal(ctx)
	if err != nil {
		s.Log.Error("journal audit failed", zap.Error(err))
		return engine.AuditReport{}, err
	}

	s.mu.Lock()
	s.last = &report
	s.lastRun = start
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("purchases", report.Purchases),
		zap.Int("orders", report.Orders),
		zap.Int("rows", report.Rows),
		zap.Duration("took", time.Since(start)),
	}
	if report.OK() {
		s.Log.Info("journal audit clean", fields...)
		return report, nil
	}
	for _, issue := range report.Issues {
		s.Log.Warn("journal audit issue",
			zap.String("kind", string(issue.Kind)),
			zap.String("type", string(issue.Type)),
			zap.String("entity_id", issue.EntityID),
			zap.String("message", issue.Message))
	}
	s.Log.Warn("journal audit found issues", append(fields, zap.Int("issues", len(report.Issues)))...)
	return report, nil
}

// Last returns the most recent report and when it ran.
func (s *AuditScheduler) Last() (engine.AuditReport, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return engine.AuditReport{}, time.Time{}, false
	}
	return *s.last, s.lastRun, true
}

// LastReport serves the scheduler's most recent report.
func (s *AuditScheduler) LastReport(w http.ResponseWriter, r *http.Request) {
	report, ranAt, ok := s.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "No audit has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ran_at": formatTime(ranAt),
		"report": toAuditReportDTO(report),
	})
}
