package stream

import (
	"fmt"

	"github.com/diastream/diastream-cli/internal/models"
)

// Predicate selects the events an ordering guard applies to.
type Predicate func(e models.Event) bool

// All matches every event.
func All(models.Event) bool { return true }

type orderingGuard struct {
	cmp  CompareFunc
	pred Predicate
	prev *models.Event
}

// AssertSorted passes events through unchanged but fails fast, before
// emitting the offending event, when two consecutive events matching pred
// are out of order under cmp. Ordering is a hard precondition of the join
// stages; continuing past a violation would silently misorder output.
func AssertSorted(cmp CompareFunc, pred Predicate) Stage {
	if pred == nil {
		pred = All
	}
	return &orderingGuard{cmp: cmp, pred: pred}
}

func (g *orderingGuard) Next(e models.Event) ([]models.Event, error) {
	if !g.pred(e) {
		return []models.Event{e}, nil
	}
	if g.prev != nil && g.cmp(*g.prev, e) > 0 {
		return nil, fmt.Errorf("%w: prev ts[%s] > curr ts[%s]", ErrUnsorted, g.prev.DeviceTime, e.DeviceTime)
	}
	prev := e
	g.prev = &prev
	return []models.Event{e}, nil
}

func (g *orderingGuard) Flush() ([]models.Event, error) { return nil, nil }

type uploadOrderGuard struct {
	pred        Predicate
	maxUploadID string
	maxSeqNum   int64
}

// AssertSortedByUploadIDAndSeqNum verifies that events matching pred are
// strictly increasing by (uploadId, uploadSeqNum). Events that match but
// lack either field are a fatal extraction bug.
func AssertSortedByUploadIDAndSeqNum(pred Predicate) Stage {
	if pred == nil {
		pred = All
	}
	return &uploadOrderGuard{pred: pred, maxSeqNum: -1}
}

func (g *uploadOrderGuard) Next(e models.Event) ([]models.Event, error) {
	if !g.pred(e) {
		return []models.Event{e}, nil
	}

	if e.UploadID == "" || e.UploadSeqNum == nil {
		return nil, fmt.Errorf("%w: %s event without uploadId[%s] or uploadSeqNum", ErrIllegalState, e.Type, e.UploadID)
	}

	if e.UploadID > g.maxUploadID {
		g.maxUploadID = e.UploadID
		g.maxSeqNum = -1
	}

	if e.UploadID != g.maxUploadID || *e.UploadSeqNum <= g.maxSeqNum {
		return nil, fmt.Errorf(
			"%w: (uploadId,seqNum)[%s,%d] < [%s,%d]",
			ErrUnsorted, e.UploadID, *e.UploadSeqNum, g.maxUploadID, g.maxSeqNum,
		)
	}

	g.maxSeqNum = *e.UploadSeqNum
	return []models.Event{e}, nil
}

func (g *uploadOrderGuard) Flush() ([]models.Event, error) { return nil, nil }
