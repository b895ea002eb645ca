package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/attendance-attest/internal/verification"
)

var capitol = verification.Destination{Lat: 38.5816, Lng: -121.4944, RadiusMeters: 100}

func near() verification.Sample {
	return verification.Sample{Lat: 38.5817, Lng: -121.4945, Timestamp: epoch}
}

func far() verification.Sample {
	return verification.Sample{Lat: 38.5861, Lng: -121.4944, Timestamp: epoch}
}

func newMachine(t *testing.T, status Status, events ...Event) *Machine {
	t.Helper()
	l, err := NewLedger("s1", events)
	require.NoError(t, err)
	m, err := NewMachine(status, capitol, l)
	require.NoError(t, err)
	return m
}

func TestMachine_CheckInGranted(t *testing.T) {
	m := newMachine(t, StatusActive)

	tr, err := m.CheckIn(Input{EventID: "e1", Sample: near()}, epoch)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, tr.From)
	assert.Equal(t, StatusCheckedIn, tr.To)
	assert.Equal(t, StatusCheckedIn, m.Status())
	assert.Equal(t, verification.FlagGranted, tr.Event.LocationFlag)
	assert.True(t, tr.Outcome.WithinRange())
	require.NotNil(t, tr.Event.DistanceMeters)
	assert.InDelta(t, 14.1, *tr.Event.DistanceMeters, 1.0)
	require.NotNil(t, tr.Event.Lat)
	assert.Equal(t, 38.5817, *tr.Event.Lat)
	assert.False(t, tr.Duplicate)
}

func TestMachine_DeniedDoesNotBlock(t *testing.T) {
	m := newMachine(t, StatusActive)

	tr, err := m.CheckIn(Input{EventID: "e1", Sample: far()}, epoch)
	require.NoError(t, err)

	assert.Equal(t, verification.FlagDenied, tr.Event.LocationFlag)
	assert.Equal(t, StatusCheckedIn, tr.To)
	assert.False(t, tr.Outcome.WithinRange())
}

func TestMachine_TimeoutHasNoDistance(t *testing.T) {
	m := newMachine(t, StatusActive)

	tr, err := m.CheckIn(Input{EventID: "e1", Sample: verification.Sample{Timeout: true, Timestamp: epoch}}, epoch)
	require.NoError(t, err)

	assert.Equal(t, verification.FlagTimeout, tr.Event.LocationFlag)
	assert.Nil(t, tr.Event.DistanceMeters)
	assert.Nil(t, tr.Event.Lat)
	assert.Nil(t, tr.Event.Lng)
}

func TestMachine_CheckInRetryIsIdempotent(t *testing.T) {
	m := newMachine(t, StatusActive)

	first, err := m.CheckIn(Input{EventID: "e1", Sample: near()}, epoch)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		retry, err := m.CheckIn(Input{EventID: "ignored", Sample: far()}, epoch.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, retry.Duplicate)
		assert.False(t, retry.Changed())
		assert.Equal(t, first.Event, retry.Event)
		assert.Equal(t, verification.FlagGranted, retry.Outcome.Flag)
	}
	assert.Equal(t, 1, m.Ledger().Len())
}

func TestMachine_CheckOutWithoutCheckIn(t *testing.T) {
	m := newMachine(t, StatusActive)

	_, err := m.CheckOut(Input{EventID: "e1", Sample: near()}, epoch)
	assert.ErrorIs(t, err, ErrOutOfOrderEvent)
	assert.Equal(t, StatusActive, m.Status())
	assert.Zero(t, m.Ledger().Len())
}

func TestMachine_CheckOutComputesDuration(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{name: "whole minutes", elapsed: 45 * time.Minute, want: 45},
		{name: "rounds down", elapsed: 10*time.Minute + 29*time.Second, want: 10},
		{name: "rounds half up", elapsed: 10*time.Minute + 30*time.Second, want: 11},
		{name: "same instant", elapsed: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newMachine(t, StatusActive)
			in, err := m.CheckIn(Input{EventID: "in", Sample: near()}, epoch)
			require.NoError(t, err)

			out, err := m.CheckOut(Input{EventID: "out", Sample: near()}, epoch.Add(tc.elapsed))
			require.NoError(t, err)

			require.NotNil(t, out.DurationMinutes)
			assert.Equal(t, DurationMinutes(in.Event.ServerTime, out.Event.ServerTime), *out.DurationMinutes)
			if tc.elapsed > 0 {
				assert.Equal(t, tc.want, *out.DurationMinutes)
			}
			assert.True(t, out.Completed())
			assert.Equal(t, StatusCompleted, m.Status())
		})
	}
}

func TestMachine_CompletedRejectsEverything(t *testing.T) {
	m := newMachine(t, StatusActive)
	_, err := m.CheckIn(Input{EventID: "in", Sample: near()}, epoch)
	require.NoError(t, err)
	_, err = m.CheckOut(Input{EventID: "out", Sample: near()}, epoch.Add(time.Hour))
	require.NoError(t, err)

	_, err = m.CheckIn(Input{EventID: "x", Sample: near()}, epoch)
	assert.ErrorIs(t, err, ErrSessionAlreadyComplete)
	_, err = m.CheckOut(Input{EventID: "x", Sample: near()}, epoch)
	assert.ErrorIs(t, err, ErrSessionAlreadyComplete)
	_, err = m.RecordLocation(Input{EventID: "x", Sample: near()}, epoch)
	assert.ErrorIs(t, err, ErrSessionAlreadyComplete)
	_, err = m.End("x", "done", epoch, epoch)
	assert.ErrorIs(t, err, ErrSessionAlreadyComplete)
	assert.Equal(t, 2, m.Ledger().Len())
}

func TestMachine_EndClosesSession(t *testing.T) {
	m := newMachine(t, StatusActive)
	_, err := m.RecordLocation(Input{EventID: "loc", Sample: far()}, epoch)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, m.Status())

	tr, err := m.End("end", "superseded", epoch, epoch)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, tr.To)
	assert.Equal(t, EventStatusChange, tr.Event.Type)
	assert.Equal(t, "superseded", tr.Event.Notes)
	assert.Empty(t, tr.Event.LocationFlag)
	assert.False(t, tr.Completed())

	_, err = m.CheckIn(Input{EventID: "x", Sample: near()}, epoch)
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestMachine_InvalidSampleLeavesStateUntouched(t *testing.T) {
	m := newMachine(t, StatusActive)

	_, err := m.CheckIn(Input{EventID: "e1", Sample: verification.Sample{Lat: 123, Lng: 0}}, epoch)
	require.Error(t, err)
	assert.Equal(t, StatusActive, m.Status())
	assert.Zero(t, m.Ledger().Len())
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusActive.CanTransition(StatusCheckedIn))
	assert.True(t, StatusActive.CanTransition(StatusEnded))
	assert.False(t, StatusActive.CanTransition(StatusCompleted))
	assert.True(t, StatusCheckedIn.CanTransition(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransition(StatusActive))
	assert.False(t, StatusEnded.CanTransition(StatusCheckedIn))

	_, err := ParseStatus("paused")
	assert.Error(t, err)
	s, err := ParseStatus("checked_in")
	require.NoError(t, err)
	assert.True(t, s.Open())
}
