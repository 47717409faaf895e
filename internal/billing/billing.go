// Package billing holds the data model shared by the cache and the retrieval engine:
// the normalized identifier, the billing period and the canonical file name derived from both.
package billing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MinIdentifierLength is the shortest IVRS number accepted from a caller.
const MinIdentifierLength = 5

var ErrInvalidIdentifier = errors.New("invalid ivrs number")

// identifierPattern keeps identifiers usable as a single path element.
var identifierPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// NormalizeIdentifier trims whitespace and upper-cases the identifier.
func NormalizeIdentifier(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateIdentifier enforces a minimum length and an upper-case alphanumeric alphabet on a
// normalized identifier, the portal is the authority on whether it actually exists.
func ValidateIdentifier(id string) error {
	if len(id) < MinIdentifierLength {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidIdentifier, id, MinIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q may only contain letters and digits", ErrInvalidIdentifier, id)
	}
	return nil
}

// Period is a calendar month, bills are partitioned by it.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Token renders the period as `Mon_YYYY`, ex. `Oct_2026`.
func (p Period) Token() string {
	return fmt.Sprintf("%s_%04d", p.Month.String()[:3], p.Year)
}

func (p Period) String() string {
	return p.Token()
}

// Request is a single bill lookup, the period is fixed at the time the request is made.
type Request struct {
	Identifier string
	Period     Period
}

// NewRequest normalizes and validates `raw` and binds it to the period containing `now`.
func NewRequest(raw string, now time.Time) (Request, error) {
	id := NormalizeIdentifier(raw)
	err := ValidateIdentifier(id)
	if err != nil {
		return Request{}, err
	}
	return Request{Identifier: id, Period: PeriodOf(now)}, nil
}

// Key identifies the cache slot of the request.
func (r Request) Key() string {
	return r.Identifier + "|" + r.Period.Token()
}

// CanonicalName is the deterministic file name a bill is stored under.
func CanonicalName(id string, period Period) string {
	return fmt.Sprintf("Bill_%s_%s.pdf", id, period.Token())
}
