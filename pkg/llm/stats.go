package llm

import (
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Stats accumulates counters over successful calls. Failed calls leave the
// counters untouched.
type Stats struct {
	totalCalls  atomic.Int64
	totalTimeMs atomic.Int64
	totalTokens atomic.Int64
}

// StatsSnapshot is a point-in-time view of the counters. The three fields
// are read independently, so a snapshot taken mid-update may tear; the
// values feed dashboards, not decisions.
type StatsSnapshot struct {
	TotalCalls  int64 `json:"total_calls"`
	TotalTimeMs int64 `json:"total_time_ms"`
	TotalTokens int64 `json:"total_tokens"`
}

func (s *Stats) record(elapsed time.Duration, tokens int) {
	s.totalCalls.Add(1)
	s.totalTimeMs.Add(elapsed.Milliseconds())
	s.totalTokens.Add(int64(tokens))
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalCalls:  s.totalCalls.Load(),
		TotalTimeMs: s.totalTimeMs.Load(),
		TotalTokens: s.totalTokens.Load(),
	}
}

// estimateTokens approximates the token count of text when the endpoint
// reported none. Four characters per token is the usual rule of thumb.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}
