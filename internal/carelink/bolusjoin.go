package carelink

import (
	"fmt"

	"github.com/diastream/diastream-cli/internal/ids"
	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

// finalize stamps an event with its join key and strips the upload
// coordinates, which have done their job once the group is tied together.
// With no explicit key the event gets one derived from its own coordinates,
// so a standalone event still ends up keyed.
func finalize(e models.Event, joinKey string) models.Event {
	if joinKey == "" {
		joinKey = ids.JoinKey(e.UploadID, *e.UploadSeqNum, e.DeviceID)
	}
	e.JoinKey = joinKey
	e.UploadID = ""
	e.UploadSeqNum = nil
	return e
}

// A wizard seen while no group is open is standalone: the matching bolus,
// had there been one, would have arrived first in sequence order.
func wizardFirst(e models.Event) stream.Handler {
	if e.Type != models.TypeWizard || e.JoinKey != "" {
		return nil
	}
	return wizardFirstHandler{}
}

type wizardFirstHandler struct{}

func (wizardFirstHandler) Handle(e models.Event) (*stream.Result, error) {
	return stream.EmitResult(finalize(e, "")), nil
}

func (wizardFirstHandler) Completed() ([]models.Event, error) {
	return nil, fmt.Errorf("%w: wizard handler resolves on its first event", stream.ErrIllegalState)
}

// A normal or square bolus correlates with the next wizard, or goes out
// alone when another bolus shows up first.
func singleBolusFirst(e models.Event) stream.Handler {
	if e.Type != models.TypeBolus || e.JoinKey != "" {
		return nil
	}
	if e.SubType != models.BolusNormal && e.SubType != models.BolusSquare {
		return nil
	}
	return &singleBolusHandler{}
}

type singleBolusHandler struct {
	bolus *models.Event
}

func (h *singleBolusHandler) Handle(e models.Event) (*stream.Result, error) {
	if h.bolus == nil {
		h.bolus = &e
		return nil, nil
	}
	switch e.Type {
	case models.TypeWizard:
		bolus := finalize(*h.bolus, "")
		return stream.EmitResult(bolus, finalize(e, bolus.JoinKey)), nil
	case models.TypeBolus:
		return &stream.Result{
			Emit:    []models.Event{finalize(*h.bolus, "")},
			Requeue: []models.Event{e},
		}, nil
	default:
		return stream.BufferResult(), nil
	}
}

func (h *singleBolusHandler) Completed() ([]models.Event, error) {
	return []models.Event{finalize(*h.bolus, "")}, nil
}

// A dual/square seen first means the pump never delivered the up-front
// portion; a zero-value dual/normal is fabricated so the pair is complete.
// Expected order is dual/square then wizard; another bolus ends the group.
func dualSquareFirst(e models.Event) stream.Handler {
	if e.Type != models.TypeBolus || e.SubType != models.BolusDualSquare || e.JoinKey != "" {
		return nil
	}
	return &dualSquareHandler{}
}

type dualSquareHandler struct {
	square *models.Event
}

func (h *dualSquareHandler) resolve(wizard *models.Event) []models.Event {
	square := finalize(*h.square, "")
	normal := square
	normal.SubType = models.BolusDualNormal
	normal.Value = models.Float(0)
	normal.Programmed = models.Float(0)

	out := []models.Event{normal, square}
	if wizard != nil {
		out = append(out, finalize(*wizard, square.JoinKey))
	}
	return out
}

func (h *dualSquareHandler) Handle(e models.Event) (*stream.Result, error) {
	if h.square == nil {
		h.square = &e
		return nil, nil
	}
	switch e.Type {
	case models.TypeWizard:
		return stream.EmitResult(h.resolve(&e)...), nil
	case models.TypeBolus:
		return &stream.Result{
			Emit:    h.resolve(nil),
			Requeue: []models.Event{e},
		}, nil
	default:
		return stream.BufferResult(), nil
	}
}

func (h *dualSquareHandler) Completed() ([]models.Event, error) {
	return h.resolve(nil), nil
}

// A dual/normal opens a full dual-wave group: dual/normal, dual/square,
// wizard, in that sequence order. A wizard arriving before the square means
// the extended portion never ran, so a zero-value dual/square is fabricated.
func dualNormalFirst(e models.Event) stream.Handler {
	if e.Type != models.TypeBolus || e.SubType != models.BolusDualNormal || e.JoinKey != "" {
		return nil
	}
	return &dualNormalHandler{}
}

type dualNormalHandler struct {
	normal *models.Event
	square *models.Event
}

func (h *dualNormalHandler) resolve(wizard *models.Event) []models.Event {
	normal := finalize(*h.normal, "")
	out := []models.Event{normal}
	if h.square != nil {
		out = append(out, finalize(*h.square, normal.JoinKey))
	}
	if wizard != nil {
		out = append(out, finalize(*wizard, normal.JoinKey))
	}
	return out
}

func (h *dualNormalHandler) Handle(e models.Event) (*stream.Result, error) {
	if h.normal == nil {
		h.normal = &e
		return nil, nil
	}

	if h.square == nil {
		switch {
		case e.Type == models.TypeBolus && e.SubType == models.BolusDualSquare:
			h.square = &e
			return nil, nil
		case e.Type == models.TypeWizard:
			square := *h.normal
			square.SubType = models.BolusDualSquare
			square.Value = models.Float(0)
			square.Programmed = models.Float(0)
			h.square = &square
			// Fall through to the wizard case below.
		case e.Type == models.TypeBolus:
			return &stream.Result{
				Emit:    h.resolve(nil),
				Requeue: []models.Event{e},
			}, nil
		default:
			return stream.BufferResult(), nil
		}
	}

	switch e.Type {
	case models.TypeWizard:
		return stream.EmitResult(h.resolve(&e)...), nil
	case models.TypeBolus:
		return &stream.Result{
			Emit:    h.resolve(nil),
			Requeue: []models.Event{e},
		}, nil
	default:
		return stream.BufferResult(), nil
	}
}

func (h *dualNormalHandler) Completed() ([]models.Event, error) {
	return h.resolve(nil), nil
}

func isBolusOrWizard(e models.Event) bool {
	return e.Type == models.TypeBolus || e.Type == models.TypeWizard
}

// JoinBoluses correlates bolus and wizard events into groups that share a
// join key. The records carry no explicit linkage, but within one upload
// they arrive in sequence order, so the joiner asserts that ordering and
// then matches on arrival patterns: each starter handles the case of one
// kind of event opening a group.
func JoinBoluses() stream.Stage {
	return stream.NewPipeline(
		stream.AssertSortedByUploadIDAndSeqNum(isBolusOrWizard),
		stream.SelfJoin(
			stream.WrapStarter(wizardFirst),
			stream.WrapStarter(singleBolusFirst),
			stream.WrapStarter(dualSquareFirst),
			stream.WrapStarter(dualNormalFirst),
		),
	)
}
