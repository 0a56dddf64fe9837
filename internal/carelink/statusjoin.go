package carelink

import (
	"fmt"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

// statusJoin pairs suspend and resume status events. Suspends queue up
// unresolved; a resume claims the oldest one (or the specific one its join
// key names) and both go out together sharing the suspend's id as the key.
// The suspend is held back until it is claimed, so a suspend and its resume
// always leave the stage adjacent.
type statusJoin struct {
	pending []models.Event
}

// JoinStatuses builds the suspend/resume pairing stage. It runs after id
// assignment because the join key it stamps on a resume is the id of the
// suspend it pairs with.
func JoinStatuses() stream.Stage {
	return &statusJoin{}
}

func (s *statusJoin) Next(e models.Event) ([]models.Event, error) {
	if !e.IsStatus() {
		return []models.Event{e}, nil
	}

	switch e.Status {
	case models.StatusSuspended:
		s.pending = append(s.pending, e)
		return nil, nil

	case models.StatusResumed:
		if len(s.pending) == 0 {
			return []models.Event{e}, nil
		}
		if e.JoinKey == "" {
			suspend := s.pending[0]
			s.pending = s.pending[1:]
			e.JoinKey = suspend.ID
			return []models.Event{suspend, e}, nil
		}
		for i, suspend := range s.pending {
			if suspend.ID == e.JoinKey {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				return []models.Event{suspend, e}, nil
			}
		}
		return []models.Event{e}, nil

	default:
		return nil, fmt.Errorf("%w: unknown status %q at %s", stream.ErrIllegalState, e.Status, e.DeviceTime)
	}
}

func (s *statusJoin) Flush() ([]models.Event, error) {
	out := s.pending
	s.pending = nil
	return out, nil
}

// strictStatusJoin is the single-pending variant for self-consistent
// single-device streams: at most one suspend may be outstanding, the
// previousStatus field of each event must agree with the last status seen,
// and a keyed resume while a suspend is pending means the stream was already
// joined once, which this variant does not support.
type strictStatusJoin struct {
	pending    *models.Event
	lastStatus string
}

// JoinStatusesStrict builds the validating variant of the status joiner.
func JoinStatusesStrict() stream.Stage {
	return &strictStatusJoin{}
}

func (s *strictStatusJoin) Next(e models.Event) ([]models.Event, error) {
	if !e.IsStatus() {
		return []models.Event{e}, nil
	}

	if s.lastStatus != "" && e.PreviousStatus != "" && e.PreviousStatus != s.lastStatus {
		return nil, fmt.Errorf("%w: status %q at %s declares previousStatus %q, expected %q",
			stream.ErrIllegalState, e.Status, e.DeviceTime, e.PreviousStatus, s.lastStatus)
	}

	switch e.Status {
	case models.StatusSuspended:
		if s.pending != nil {
			return nil, fmt.Errorf("%w: suspend at %s while one is already pending at %s",
				stream.ErrIllegalState, e.DeviceTime, s.pending.DeviceTime)
		}
		s.lastStatus = e.Status
		s.pending = &e
		return nil, nil

	case models.StatusResumed:
		s.lastStatus = e.Status
		if s.pending == nil {
			return []models.Event{e}, nil
		}
		if e.JoinKey != "" {
			return nil, fmt.Errorf("%w: resume at %s carries a join key while a suspend is pending",
				stream.ErrIllegalState, e.DeviceTime)
		}
		suspend := *s.pending
		s.pending = nil
		e.JoinKey = suspend.ID
		return []models.Event{suspend, e}, nil

	default:
		return nil, fmt.Errorf("%w: unknown status %q at %s", stream.ErrIllegalState, e.Status, e.DeviceTime)
	}
}

func (s *strictStatusJoin) Flush() ([]models.Event, error) {
	if s.pending == nil {
		return nil, nil
	}
	suspend := *s.pending
	s.pending = nil
	return []models.Event{suspend}, nil
}
