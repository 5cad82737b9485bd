// Package counters tracks the additive cost metrics accumulated while
// executing a query: LLM call count, token usage, and wall-clock time.
package counters

import "time"

// Counters is an additive monoid: summing two Counters sums their fields.
// Each operator maintains its own; the engine sums across operators every
// round.
type Counters struct {
	LLMCalls         int
	InputTokens      int
	OutputTokens     int
	ExecutionSeconds float64
}

// Add returns the element-wise sum of c and other.
func (c Counters) Add(other Counters) Counters {
	return Counters{
		LLMCalls:         c.LLMCalls + other.LLMCalls,
		InputTokens:      c.InputTokens + other.InputTokens,
		OutputTokens:     c.OutputTokens + other.OutputTokens,
		ExecutionSeconds: c.ExecutionSeconds + other.ExecutionSeconds,
	}
}

// Sum folds Add over a slice of Counters, starting from the zero value.
func Sum(all []Counters) Counters {
	var total Counters
	for _, c := range all {
		total = total.Add(c)
	}
	return total
}

// Stopwatch measures ExecutionSeconds for one round of work.
type Stopwatch struct {
	start time.Time
}

// NewStopwatch starts a stopwatch at the current time.
func NewStopwatch() Stopwatch {
	return Stopwatch{start: time.Now()}
}

// Elapsed returns the seconds since the stopwatch started.
func (s Stopwatch) Elapsed() float64 {
	return time.Since(s.start).Seconds()
}
