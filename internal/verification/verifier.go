// Package verification decides whether a GPS sample was captured within a destination's radius.
package verification

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/attendance-attest/internal/geo"
)

// Flag is the verification outcome attached to a session event.
type Flag string

const (
	// FlagGranted marks a sample captured within the destination radius.
	FlagGranted Flag = "granted"
	// FlagDenied marks a sample captured outside the destination radius.
	FlagDenied Flag = "denied"
	// FlagTimeout marks a sample for which the device could not acquire a position.
	FlagTimeout Flag = "timeout"
)

// ErrInvalidRadius is returned when a destination carries a non-positive or non-finite radius.
var ErrInvalidRadius = errors.New("verification: invalid radius")

// Valid reports whether f is one of the known flags.
func (f Flag) Valid() bool {
	switch f {
	case FlagGranted, FlagDenied, FlagTimeout:
		return true
	}
	return false
}

// Destination is the snapshot of a meeting location a session verifies against.
type Destination struct {
	Lat          float64
	Lng          float64
	RadiusMeters float64
}

// Sample is a single client GPS reading. When Timeout is set the coordinates are ignored.
type Sample struct {
	Lat       float64
	Lng       float64
	Accuracy  *float64
	Timestamp time.Time
	Timeout   bool
}

// Outcome is the result of verifying a sample. DistanceMeters is nil for timeouts.
type Outcome struct {
	Flag           Flag
	DistanceMeters *float64
}

// WithinRange reports whether the outcome granted the location.
func (o Outcome) WithinRange() bool {
	return o.Flag == FlagGranted
}

// Verify applies the fixed radius policy: granted when the haversine distance is at most the
// destination radius, denied otherwise, timeout only when the sample itself timed out.
func Verify(dest Destination, sample Sample) (Outcome, error) {
	if math.IsNaN(dest.RadiusMeters) || math.IsInf(dest.RadiusMeters, 0) || dest.RadiusMeters <= 0 {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRadius, dest.RadiusMeters)
	}

	if sample.Timeout {
		return Outcome{Flag: FlagTimeout}, nil
	}

	distance, err := geo.DistanceMeters(
		geo.Coordinate{Lat: dest.Lat, Lng: dest.Lng},
		geo.Coordinate{Lat: sample.Lat, Lng: sample.Lng},
	)
	if err != nil {
		return Outcome{}, err
	}

	flag := FlagDenied
	if distance <= dest.RadiusMeters {
		flag = FlagGranted
	}
	return Outcome{Flag: flag, DistanceMeters: &distance}, nil
}
