// Package portal drives a browser through the discom consumer portal to download the
// latest month bill for an identifier.
package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"billfetch/internal/billing"
	"billfetch/internal/components/assert"
	"billfetch/internal/components/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("internal/portal")
var meter = otel.Meter("internal/portal")

var retrievalCounter, _ = meter.Int64Counter(
	"portal.retrievals",
	metric.WithDescription("Retrieval attempts partitioned by outcome and failure kind."),
)
var retrievalDuration, _ = meter.Float64Histogram(
	"portal.retrieval.duration",
	metric.WithDescription("Wall time of a retrieval attempt."),
	metric.WithUnit("s"),
)

const (
	report_retrieve      = "engine.retrieve"
	report_session_close = "engine.session-close"
	report_workdir       = "engine.workdir"
)

type State int

const (
	StateIdle State = iota
	StateLaunching
	StateFormSubmission
	StateAwaitingLatestBillControl
	StateDownloading
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateFormSubmission:
		return "form_submission"
	case StateAwaitingLatestBillControl:
		return "awaiting_latest_bill_control"
	case StateDownloading:
		return "downloading"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Committer moves a downloaded artifact to its permanent location, billcache.Cache
// implements it.
type Committer interface {
	Commit(ctx context.Context, id string, period billing.Period, source string) (string, error)
}

type EngineConfig struct {
	PortalURL string
	// WorkDir holds one download directory per attempt, it should be on the same
	// filesystem as the cache so commits are a rename.
	WorkDir string

	ElementTimeout time.Duration
	ScrollSettle   time.Duration
	WindowSettle   time.Duration

	// Session is the template every attempt's SessionConfig is derived from, DownloadDir
	// is always overwritten.
	Session SessionConfig
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.PortalURL == "" {
		c.PortalURL = DefaultPortalURL
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = DefaultElementTimeout
	}
	if c.ScrollSettle < 0 {
		c.ScrollSettle = DefaultScrollSettle
	}
	if c.WindowSettle < 0 {
		c.WindowSettle = DefaultWindowSettle
	}
	return c
}

// DefaultEngineConfig returns the fixed timings the portal is known to work with.
func DefaultEngineConfig(workDir string) EngineConfig {
	return EngineConfig{
		PortalURL:      DefaultPortalURL,
		WorkDir:        workDir,
		ElementTimeout: DefaultElementTimeout,
		ScrollSettle:   DefaultScrollSettle,
		WindowSettle:   DefaultWindowSettle,
		Session: SessionConfig{
			UserAgent:    DefaultUserAgent,
			WindowWidth:  DefaultWindowWidth,
			WindowHeight: DefaultWindowHeight,
		},
	}
}

type Engine struct {
	cfg        EngineConfig
	newSession SessionFactory
	detector   Detector
	prober     Prober
	cache      Committer
	tel        telemetry.API
}

// NewEngine creates a retrieval engine, `prober` may be nil to skip the reachability check.
func NewEngine(
	cfg EngineConfig,
	newSession SessionFactory,
	detector Detector,
	prober Prober,
	cache Committer,
	tel telemetry.API,
) Engine {
	assert.NotEmptyStr(cfg.WorkDir)
	assert.NotNil(newSession)
	assert.NotNil(detector)
	assert.NotNil(cache)
	assert.NotNil(tel)

	return Engine{
		cfg:        cfg.withDefaults(),
		newSession: newSession,
		detector:   detector,
		prober:     prober,
		cache:      cache,
		tel:        telemetry.NewScopedAPI("portal", tel),
	}
}

// attempt is the mutable state of a single call to Retrieve.
type attempt struct {
	id    string
	state State
	span  trace.Span
	tel   telemetry.API
}

func (a *attempt) enter(state State) {
	a.state = state
	a.span.AddEvent("state", trace.WithAttributes(attribute.String("state", state.String())))
	a.tel.ReportDebug("state transition", "attempt", a.id, "state", state.String())
}

func (a *attempt) fail(fallback Kind, err error) error {
	return &RetrievalError{
		State: a.state,
		Kind:  classify(err, fallback),
		Err:   err,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newestWindow returns the most recently opened window in `after` that is not in `before`.
func newestWindow(before, after []WindowID) WindowID {
	known := make(map[WindowID]bool, len(before))
	for _, id := range before {
		known[id] = true
	}
	for i := len(after) - 1; i >= 0; i-- {
		if !known[after[i]] {
			return after[i]
		}
	}
	return ""
}

// Retrieve runs one attempt to download the latest month bill of req.Identifier and commits
// it under req.Period. It returns the committed path, or a *RetrievalError. The browser
// session is closed before Retrieve returns on every path.
func (e Engine) Retrieve(ctx context.Context, req billing.Request) (path string, err error) {
	ctx, span := tracer.Start(ctx, "portal:retrieve", trace.WithAttributes(
		attribute.String("custom.identifier", req.Identifier),
		attribute.String("custom.period", req.Period.Token()),
	))
	defer span.End()

	start := time.Now()
	a := &attempt{
		id:    uuid.NewString(),
		state: StateIdle,
		span:  span,
		tel:   e.tel,
	}
	span.SetAttributes(attribute.String("custom.attempt", a.id))

	defer func() {
		if recovered := recover(); recovered != nil {
			path = ""
			err = &RetrievalError{
				State: a.state,
				Kind:  KindUnknown,
				Err:   fmt.Errorf("panic: %v", recovered),
			}
		}

		outcome := "complete"
		kind := "none"
		if err != nil {
			outcome = "failed"
			kind = KindOf(err).String()
			failedIn := a.state
			a.enter(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.tel.ReportWarning(report_retrieve, err, "identifier", req.Identifier, "state", failedIn.String())
		} else {
			a.enter(StateComplete)
		}

		attrs := metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("kind", kind),
		)
		retrievalCounter.Add(ctx, 1, attrs)
		retrievalDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	a.enter(StateLaunching)

	dir, err := filepath.Abs(filepath.Join(e.cfg.WorkDir, a.id))
	if err != nil {
		return "", a.fail(KindUnknown, err)
	}
	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return "", a.fail(KindUnknown, fmt.Errorf("create download dir: %w", err))
	}
	defer func() {
		rmErr := os.RemoveAll(dir)
		if rmErr != nil {
			e.tel.ReportBroken(report_workdir, rmErr, dir)
		}
	}()

	if e.prober != nil {
		err = e.prober.Probe(ctx, e.cfg.PortalURL)
		if err != nil {
			return "", a.fail(KindSession, err)
		}
	}

	sessionCfg := e.cfg.Session
	sessionCfg.DownloadDir = dir
	session, err := e.newSession(ctx, sessionCfg)
	if err != nil {
		return "", a.fail(KindSession, err)
	}
	defer func() {
		closeErr := session.Close()
		if closeErr != nil {
			e.tel.ReportWarning(report_session_close, closeErr)
		}
	}()

	a.enter(StateFormSubmission)

	err = session.Navigate(ctx, e.cfg.PortalURL)
	if err != nil {
		return "", a.fail(KindSession, err)
	}
	err = session.WaitPresent(ctx, IdentifierInput, e.cfg.ElementTimeout)
	if err != nil {
		return "", a.fail(KindElementNotFound, err)
	}
	err = session.Fill(ctx, IdentifierInput, req.Identifier)
	if err != nil {
		return "", a.fail(KindElementNotFound, err)
	}
	err = session.WaitPresent(ctx, SubmitButton, e.cfg.ElementTimeout)
	if err != nil {
		return "", a.fail(KindElementNotFound, err)
	}
	err = session.ScrollIntoView(ctx, SubmitButton)
	if err != nil {
		return "", a.fail(KindElementNotFound, err)
	}
	err = sleep(ctx, e.cfg.ScrollSettle)
	if err != nil {
		return "", a.fail(KindUnknown, err)
	}

	before, err := session.Windows(ctx)
	if err != nil {
		return "", a.fail(KindSession, err)
	}
	err = session.Click(ctx, SubmitButton)
	if err != nil {
		e.tel.ReportDebug("native submit click failed, dispatching", "err", err)
		err = session.DispatchClick(ctx, SubmitButton)
		if err != nil {
			return "", a.fail(KindElementNotFound, err)
		}
	}
	err = sleep(ctx, e.cfg.WindowSettle)
	if err != nil {
		return "", a.fail(KindUnknown, err)
	}

	after, err := session.Windows(ctx)
	if err != nil {
		return "", a.fail(KindSession, err)
	}
	if opened := newestWindow(before, after); opened != "" {
		e.tel.ReportDebug("switching to new window", "window", string(opened))
		err = session.SwitchWindow(ctx, opened)
		if err != nil {
			return "", a.fail(KindSession, err)
		}
	}

	a.enter(StateAwaitingLatestBillControl)

	control, err := session.WaitAnyClickable(ctx, LatestBillControls, e.cfg.ElementTimeout)
	if err != nil {
		return "", a.fail(KindElementNotFound, err)
	}
	span.SetAttributes(attribute.String("custom.control", control.Name))

	a.enter(StateDownloading)

	baseline, err := e.detector.Snapshot(dir)
	if err != nil {
		return "", a.fail(KindUnknown, fmt.Errorf("snapshot download dir: %w", err))
	}
	err = session.ScrollIntoView(ctx, control)
	if err != nil {
		return "", a.fail(KindElementNotFound, err)
	}
	err = session.Click(ctx, control)
	if err != nil {
		return "", a.fail(KindElementNotFound, err)
	}

	artifact, err := e.detector.Await(ctx, dir, baseline)
	if err != nil {
		return "", a.fail(KindUnknown, err)
	}

	path, err = e.cache.Commit(ctx, req.Identifier, req.Period, artifact)
	if err != nil {
		return "", a.fail(KindUnknown, err)
	}
	return path, nil
}
