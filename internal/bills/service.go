// Package bills answers "give me this month's bill for this identifier" by consulting the
// cache first and only falling back to the portal on a miss.
package bills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billfetch/internal/attempts"
	"billfetch/internal/billing"
	"billfetch/internal/components/assert"
	"billfetch/internal/components/chrono"
	"billfetch/internal/components/telemetry"
	"billfetch/internal/portal"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("internal/bills")

const (
	report_get     = "service.get"
	report_journal = "service.journal"
)

// FailureMessage is shown to a user whenever no bill could be produced for a valid identifier.
const FailureMessage = "Could not download the bill.\n" +
	"Possible reasons:\n" +
	"1. IVRS Number is wrong.\n" +
	"2. The website is slow/down.\n" +
	"3. No bill generated for this month yet."

// InvalidIdentifierMessage is shown when the identifier is rejected before any lookup.
const InvalidIdentifierMessage = "That doesn't look like a valid IVRS number. Please try again."

type Cache interface {
	Lookup(ctx context.Context, id string, period billing.Period) (string, bool, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, req billing.Request) (string, error)
}

type Journal interface {
	Record(ctx context.Context, a attempts.Attempt) error
}

type Result struct {
	Path   string
	Cached bool
}

type Service struct {
	cache   Cache
	engine  Retriever
	journal Journal
	time    chrono.TimeAPI
	tel     telemetry.API
	flights *singleflight.Group
}

// NewService creates the service, `journal` may be nil.
func NewService(cache Cache, engine Retriever, journal Journal, timeAPI chrono.TimeAPI, tel telemetry.API) Service {
	assert.NotNil(cache)
	assert.NotNil(engine)
	assert.NotNil(timeAPI)
	assert.NotNil(tel)

	return Service{
		cache:   cache,
		engine:  engine,
		journal: journal,
		time:    timeAPI,
		tel:     telemetry.NewScopedAPI("bills", tel),
		flights: &singleflight.Group{},
	}
}

// Get returns the path of the bill for `rawIdentifier` in the current billing period.
// Concurrent calls for the same identifier and period share a single portal retrieval, which
// keeps running when a caller's ctx is cancelled so the remaining callers still get the bill.
func (s Service) Get(ctx context.Context, rawIdentifier string) (Result, error) {
	ctx, span := tracer.Start(ctx, "bills:get")
	defer span.End()

	started := s.time.Now()
	req, err := billing.NewRequest(rawIdentifier, started)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("custom.identifier", req.Identifier),
		attribute.String("custom.period", req.Period.Token()),
	)

	path, ok, err := s.cache.Lookup(ctx, req.Identifier, req.Period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.tel.ReportBroken(report_get, err, req.Identifier)
		return Result{}, fmt.Errorf("cache lookup: %w", err)
	}
	if ok {
		span.SetAttributes(attribute.Bool("custom.cached", true))
		s.record(ctx, req, started, attempts.OutcomeCacheHit, nil)
		return Result{Path: path, Cached: true}, nil
	}

	// the flight outlives any single caller, each caller only stops waiting on its own ctx
	flightCtx := context.WithoutCancel(ctx)
	flight := s.flights.DoChan(req.Key(), func() (any, error) {
		// a flight for the same key may have committed between the lookup and now
		path, ok, err := s.cache.Lookup(flightCtx, req.Identifier, req.Period)
		if err == nil && ok {
			return Result{Path: path, Cached: true}, nil
		}

		path, err = s.engine.Retrieve(flightCtx, req)
		s.record(flightCtx, req, started, attempts.OutcomeComplete, err)
		if err != nil {
			return nil, err
		}
		return Result{Path: path}, nil
	})

	select {
	case res := <-flight:
		span.SetAttributes(attribute.Bool("custom.shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		span.SetStatus(codes.Error, "caller stopped waiting")
		return Result{}, ctx.Err()
	}
}

func (s Service) record(ctx context.Context, req billing.Request, started time.Time, outcome attempts.Outcome, err error) {
	if s.journal == nil {
		return
	}

	entry := attempts.Attempt{
		Identifier: req.Identifier,
		Period:     req.Period.Token(),
		StartedAt:  started,
		Duration:   s.time.Now().Sub(started),
		Outcome:    outcome,
	}
	if err != nil {
		entry.Outcome = attempts.OutcomeFailed
		entry.Kind = portal.KindOf(err).String()
		entry.Detail = err.Error()
	}

	// the journal is diagnostics only, a failure to write it never fails the request
	recordErr := s.journal.Record(context.WithoutCancel(ctx), entry)
	if recordErr != nil {
		s.tel.ReportWarning(report_journal, recordErr)
	}
}

// UserMessage maps an error returned by Get onto the text shown to the user.
func UserMessage(err error) string {
	if errors.Is(err, billing.ErrInvalidIdentifier) {
		return InvalidIdentifierMessage
	}
	return FailureMessage
}
