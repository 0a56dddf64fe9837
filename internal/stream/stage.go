// Package stream is the substrate the normalization pipelines are built on:
// single-threaded, push-based transforms over ordered event sequences. Each
// stage consumes one event at a time and may emit zero or more events
// downstream; end of stream is signalled by Flush. Stages keep only bounded
// internal state, except for the explicit materialize-and-sort stage.
package stream

import (
	"errors"
	"fmt"

	"github.com/diastream/diastream-cli/internal/models"
)

// ErrIllegalState marks invariant violations: once raised the whole run
// aborts, there is no partial output.
var ErrIllegalState = errors.New("illegal state")

// ErrUnsorted marks ordering precondition violations.
var ErrUnsorted = fmt.Errorf("%w: unsorted input", ErrIllegalState)

// Stage transforms an ordered event sequence one event at a time.
type Stage interface {
	// Next consumes one event and returns the events to emit downstream,
	// possibly none.
	Next(e models.Event) ([]models.Event, error)
	// Flush signals end of stream and returns any trailing events.
	Flush() ([]models.Event, error)
}

// Pipeline chains stages; the output of each feeds the next.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline from the given stages, first to last.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Next pushes one event through every stage.
func (p *Pipeline) Next(e models.Event) ([]models.Event, error) {
	return feed(p.stages, e)
}

// Flush cascades end-of-stream through the stages: each stage's trailing
// events pass through all downstream stages before those are flushed.
func (p *Pipeline) Flush() ([]models.Event, error) {
	return flushCascade(p.stages)
}

// Run pushes a whole closed sequence through the pipeline and flushes.
func (p *Pipeline) Run(in []models.Event) ([]models.Event, error) {
	var out []models.Event
	for _, e := range in {
		emitted, err := p.Next(e)
		if err != nil {
			return nil, err
		}
		out = append(out, emitted...)
	}
	trailing, err := p.Flush()
	if err != nil {
		return nil, err
	}
	return append(out, trailing...), nil
}

func feed(stages []Stage, e models.Event) ([]models.Event, error) {
	if len(stages) == 0 {
		return []models.Event{e}, nil
	}
	emitted, err := stages[0].Next(e)
	if err != nil {
		return nil, err
	}
	var out []models.Event
	for _, ev := range emitted {
		downstream, err := feed(stages[1:], ev)
		if err != nil {
			return nil, err
		}
		out = append(out, downstream...)
	}
	return out, nil
}

func flushCascade(stages []Stage) ([]models.Event, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	trailing, err := stages[0].Flush()
	if err != nil {
		return nil, err
	}
	var out []models.Event
	for _, ev := range trailing {
		downstream, err := feed(stages[1:], ev)
		if err != nil {
			return nil, err
		}
		out = append(out, downstream...)
	}
	rest, err := flushCascade(stages[1:])
	if err != nil {
		return nil, err
	}
	return append(out, rest...), nil
}

// MapFunc rewrites one event into another.
type MapFunc func(e models.Event) (models.Event, error)

type mapStage struct {
	fn MapFunc
}

// Map builds a stateless one-to-one stage.
func Map(fn MapFunc) Stage {
	return &mapStage{fn: fn}
}

func (s *mapStage) Next(e models.Event) ([]models.Event, error) {
	mapped, err := s.fn(e)
	if err != nil {
		return nil, err
	}
	return []models.Event{mapped}, nil
}

func (s *mapStage) Flush() ([]models.Event, error) { return nil, nil }

// KeepFunc rewrites an event or drops it by returning nil.
type KeepFunc func(e models.Event) (*models.Event, error)

type keepStage struct {
	fn KeepFunc
}

// Keep builds a map-and-filter stage: nil results are dropped.
func Keep(fn KeepFunc) Stage {
	return &keepStage{fn: fn}
}

func (s *keepStage) Next(e models.Event) ([]models.Event, error) {
	kept, err := s.fn(e)
	if err != nil {
		return nil, err
	}
	if kept == nil {
		return nil, nil
	}
	return []models.Event{*kept}, nil
}

func (s *keepStage) Flush() ([]models.Event, error) { return nil, nil }
