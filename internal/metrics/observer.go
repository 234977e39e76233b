package metrics

import "time"

// RetrievalObserver receives events from the retrieval engine
type RetrievalObserver interface {
	IncWaiting()
	DecWaiting()
	RecordPoll()
	RecordRaceLost()
	ObserveOutcome(status string, elapsed time.Duration)
}

// Nop is an observer that drops every event
type Nop struct{}

func (Nop) IncWaiting()                          {}
func (Nop) DecWaiting()                          {}
func (Nop) RecordPoll()                          {}
func (Nop) RecordRaceLost()                      {}
func (Nop) ObserveOutcome(string, time.Duration) {}
