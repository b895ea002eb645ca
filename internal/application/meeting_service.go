package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/attendance-attest/internal/geo"
	"github.com/example/attendance-attest/internal/persistence"
)

// MeetingRepository captures the persistence operations needed by the meeting catalog.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) (Meeting, error)
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	UpdateMeeting(ctx context.Context, meeting Meeting) (Meeting, error)
	ListMeetings(ctx context.Context, activeOnly bool) ([]Meeting, error)
}

// MeetingService orchestrates validation and persistence for the destination catalog.
type MeetingService struct {
	meetings      MeetingRepository
	idGenerator   func() string
	now           func() time.Time
	defaultRadius float64
	logger        *slog.Logger
}

// NewMeetingService constructs a meeting service with the provided dependencies.
func NewMeetingService(meetings MeetingRepository, idGenerator func() string, now func() time.Time, defaultRadius float64) *MeetingService {
	return NewMeetingServiceWithLogger(meetings, idGenerator, now, defaultRadius, nil)
}

// NewMeetingServiceWithLogger constructs a meeting service with a specified logger.
func NewMeetingServiceWithLogger(meetings MeetingRepository, idGenerator func() string, now func() time.Time, defaultRadius float64, logger *slog.Logger) *MeetingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &MeetingService{
		meetings:      meetings,
		idGenerator:   idGenerator,
		now:           now,
		defaultRadius: defaultRadius,
		logger:        defaultLogger(logger),
	}
}

func (s *MeetingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MeetingService", operation, attrs...)
}

// CreateMeeting validates input and persists a new destination.
func (s *MeetingService) CreateMeeting(ctx context.Context, input MeetingInput) (meeting Meeting, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}
	if s.meetings == nil {
		err = fmt.Errorf("meeting repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateMeeting")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create meeting", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("meeting_id", meeting.ID).InfoContext(ctx, "meeting created")
	}()

	input = s.withDefaults(input)
	vErr := validateMeetingInput(input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = s.idGenerator()
	}
	meeting = Meeting{
		ID:           id,
		Name:         normalizeText(input.Name),
		Address:      normalizeText(input.Address),
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		RadiusMeters: input.RadiusMeters,
		IsActive:     input.IsActive == nil || *input.IsActive,
		CreatedAt:    s.now(),
	}
	meeting.UpdatedAt = meeting.CreatedAt

	meeting, err = s.meetings.CreateMeeting(ctx, meeting)
	if err != nil {
		err = mapMeetingRepoError(err)
		return
	}
	return
}

// UpsertMeeting updates the meeting with input.ID when it exists and creates it otherwise.
// Catalog seeding relies on it to be rerunnable.
func (s *MeetingService) UpsertMeeting(ctx context.Context, input MeetingInput) (meeting Meeting, created bool, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}
	if s.meetings == nil {
		err = fmt.Errorf("meeting repository not configured")
		return
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		meeting, err = s.CreateMeeting(ctx, input)
		return meeting, err == nil, err
	}

	var existing Meeting
	existing, err = s.meetings.GetMeeting(ctx, id)
	if err != nil {
		if errors.Is(mapMeetingRepoError(err), ErrNotFound) {
			meeting, err = s.CreateMeeting(ctx, input)
			return meeting, err == nil, err
		}
		err = mapMeetingRepoError(err)
		return
	}

	logger := s.loggerWith(ctx, "UpsertMeeting", "meeting_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update meeting", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting updated")
	}()

	input = s.withDefaults(input)
	vErr := validateMeetingInput(input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	updated := existing
	updated.Name = normalizeText(input.Name)
	updated.Address = normalizeText(input.Address)
	updated.Latitude = input.Latitude
	updated.Longitude = input.Longitude
	updated.RadiusMeters = input.RadiusMeters
	if input.IsActive != nil {
		updated.IsActive = *input.IsActive
	}
	updated.UpdatedAt = s.now()

	meeting, err = s.meetings.UpdateMeeting(ctx, updated)
	if err != nil {
		err = mapMeetingRepoError(err)
	}
	return
}

// GetMeeting returns a single meeting.
func (s *MeetingService) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	if s == nil {
		return Meeting{}, fmt.Errorf("MeetingService is nil")
	}
	if s.meetings == nil {
		return Meeting{}, fmt.Errorf("meeting repository not configured")
	}
	if strings.TrimSpace(id) == "" {
		return Meeting{}, ErrNotFound
	}
	meeting, err := s.meetings.GetMeeting(ctx, strings.TrimSpace(id))
	if err != nil {
		return Meeting{}, mapMeetingRepoError(err)
	}
	return meeting, nil
}

// ListMeetings returns the catalog ordered by name.
func (s *MeetingService) ListMeetings(ctx context.Context, activeOnly bool) (meetings []Meeting, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}
	if s.meetings == nil {
		return nil, nil
	}

	logger := s.loggerWith(ctx, "ListMeetings", "active_only", activeOnly)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list meetings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(meetings)).DebugContext(ctx, "meetings listed")
	}()

	var raw []Meeting
	raw, err = s.meetings.ListMeetings(ctx, activeOnly)
	if err != nil {
		err = mapMeetingRepoError(err)
		return
	}

	meetings = make([]Meeting, len(raw))
	copy(meetings, raw)
	sort.Slice(meetings, func(i, j int) bool {
		if strings.EqualFold(meetings[i].Name, meetings[j].Name) {
			return meetings[i].ID < meetings[j].ID
		}
		return strings.ToLower(meetings[i].Name) < strings.ToLower(meetings[j].Name)
	})
	return
}

func (s *MeetingService) withDefaults(input MeetingInput) MeetingInput {
	if input.RadiusMeters == 0 {
		input.RadiusMeters = s.defaultRadius
	}
	return input
}

func validateMeetingInput(input MeetingInput) *ValidationError {
	vErr := &ValidationError{}

	if normalizeText(input.Name) == "" {
		vErr.add("name", "name is required")
	}
	if normalizeText(input.Address) == "" {
		vErr.add("address", "address is required")
	}
	vErr.merge("", validateCoordinate("latitude", "longitude", input.Latitude, input.Longitude))
	if !(input.RadiusMeters > 0) {
		vErr.add("radius_meters", "radius must be positive")
	}

	return vErr
}

// validateCoordinate reports range violations under the given field names.
func validateCoordinate(latField, lngField string, lat, lng float64) *ValidationError {
	vErr := &ValidationError{}
	if err := (geo.Coordinate{Lat: lat, Lng: 0}).Validate(); err != nil {
		vErr.add(latField, "latitude must be between -90 and 90")
	}
	if err := (geo.Coordinate{Lat: 0, Lng: lng}).Validate(); err != nil {
		vErr.add(lngField, "longitude must be between -180 and 180")
	}
	return vErr
}

func mapMeetingRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		vErr := &ValidationError{}
		vErr.add("id", "meeting id already exists")
		return vErr
	}
	return err
}
