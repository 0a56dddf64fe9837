package stream

import (
	"sort"

	"github.com/diastream/diastream-cli/internal/models"
)

// CompareFunc orders two events; negative means a sorts before b.
type CompareFunc func(a, b models.Event) int

// ByDeviceTime orders events by their device clock timestamp.
func ByDeviceTime(a, b models.Event) int {
	return a.DeviceTime.Compare(b.DeviceTime)
}

// Descending inverts a comparator.
func Descending(cmp CompareFunc) CompareFunc {
	return func(a, b models.Event) int { return -cmp(a, b) }
}

// Chain tries comparators left to right until one breaks the tie.
func Chain(cmps ...CompareFunc) CompareFunc {
	return func(a, b models.Event) int {
		for _, cmp := range cmps {
			if c := cmp(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}

type sortStage struct {
	cmp    CompareFunc
	buffer []models.Event
}

// Sort materializes the whole sequence and re-emits it ordered by cmp on
// Flush. The sort is stable, so equal events keep their arrival order. This
// trades memory for the global ordering some downstream stages require; it is
// acceptable for closed historical exports, not for unbounded live input.
func Sort(cmp CompareFunc) Stage {
	return &sortStage{cmp: cmp}
}

func (s *sortStage) Next(e models.Event) ([]models.Event, error) {
	s.buffer = append(s.buffer, e)
	return nil, nil
}

func (s *sortStage) Flush() ([]models.Event, error) {
	sort.SliceStable(s.buffer, func(i, j int) bool {
		return s.cmp(s.buffer[i], s.buffer[j]) < 0
	})
	out := s.buffer
	s.buffer = nil
	return out, nil
}
