package chrono

import (
	"time"
)

// DefaultLocation is the timezone the portal bills in.
const DefaultLocation = "Asia/Kolkata"

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in the location the API was constructed with.
	Now() time.Time
	Location() *time.Location
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct {
	location *time.Location
}

// NewStandardTime is the constructor of StandardTime, an empty location means DefaultLocation.
func NewStandardTime(location string) (StandardTime, error) {
	if location == "" {
		location = DefaultLocation
	}
	loc, err := time.LoadLocation(location)
	if err != nil {
		return StandardTime{}, err
	}
	return StandardTime{location: loc}, nil
}

func (s StandardTime) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardTime) Location() *time.Location {
	return s.location
}

// FixedTime is a TimeAPI that always returns the same instant.
type FixedTime struct {
	At time.Time
}

func (f FixedTime) Now() time.Time {
	return f.At
}

func (f FixedTime) Location() *time.Location {
	return f.At.Location()
}
