// Package attempts keeps a log of every bill request for operators. The log is never
// consulted when deciding whether a bill is cached.
package attempts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"billfetch/internal/attempts/db"
	"billfetch/internal/components/assert"
	"billfetch/internal/components/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/attempts")

const report_record = "store.record"

type Outcome string

const (
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
)

type Attempt struct {
	Identifier string
	// Period is the billing period token, e.g. Oct_2026.
	Period    string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   Outcome
	// Kind is the failure kind of a failed attempt.
	Kind   string
	Detail string
}

type Store struct {
	qry *db.Queries
	tel telemetry.API
}

func NewStore(database *sql.DB, tel telemetry.API) Store {
	assert.NotNil(database)
	assert.NotNil(tel)

	return Store{
		qry: db.New(database),
		tel: telemetry.NewScopedAPI("attempts", tel),
	}
}

func (s Store) Record(ctx context.Context, a Attempt) error {
	ctx, span := tracer.Start(ctx, "attempts:record")
	defer span.End()

	span.SetAttributes(
		attribute.String("custom.identifier", a.Identifier),
		attribute.String("custom.outcome", string(a.Outcome)),
	)

	err := s.qry.RecordAttempt(ctx, db.RecordAttemptParams{
		Identifier: a.Identifier,
		Period:     a.Period,
		StartedAt:  a.StartedAt.UnixMilli(),
		DurationMs: a.Duration.Milliseconds(),
		Outcome:    string(a.Outcome),
		Kind:       a.Kind,
		Detail:     a.Detail,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record attempt")
		s.tel.ReportBroken(report_record, err, a.Identifier)
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Recent returns the latest `limit` attempts, newest first. If identifier is not empty
// only attempts for that identifier are returned.
func (s Store) Recent(ctx context.Context, identifier string, limit int) ([]Attempt, error) {
	assert.Positive(limit)

	ctx, span := tracer.Start(ctx, "attempts:recent")
	defer span.End()

	var rows []db.Attempt
	var err error
	if identifier == "" {
		rows, err = s.qry.RecentAttempts(ctx, int64(limit))
	} else {
		rows, err = s.qry.RecentAttemptsFor(ctx, db.RecentAttemptsForParams{
			Identifier: identifier,
			Limit:      int64(limit),
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	out := make([]Attempt, len(rows))
	for i, row := range rows {
		out[i] = Attempt{
			Identifier: row.Identifier,
			Period:     row.Period,
			StartedAt:  time.UnixMilli(row.StartedAt),
			Duration:   time.Duration(row.DurationMs) * time.Millisecond,
			Outcome:    Outcome(row.Outcome),
			Kind:       row.Kind,
			Detail:     row.Detail,
		}
	}
	return out, nil
}
