// Package metrics provides in-memory runtime statistics for a chat session.
package metrics

import (
	"maps"
	"math"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpSend   = "send"
	OpPoll   = "poll"
	OpLookup = "lookup"
	OpCreate = "create"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (sends only)
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `yaml:"count"`
	Errors      int64   `yaml:"errors"`
	TotalTimeMs int64   `yaml:"total_time_ms"`
	AvgTimeMs   float64 `yaml:"avg_time_ms"`
	MinTimeMs   int64   `yaml:"min_time_ms"`
	MaxTimeMs   int64   `yaml:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64 `yaml:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64 `yaml:"total_output_tokens,omitempty"`
}

// Snapshot represents the session statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `yaml:"uptime_seconds"`
	Send          *OperationSnapshot `yaml:"send,omitempty"`
	Poll          *OperationSnapshot `yaml:"poll,omitempty"`
	Lookup        *OperationSnapshot `yaml:"lookup,omitempty"`
	Create        *OperationSnapshot `yaml:"create,omitempty"`
	// Outcomes counts dispatches by outcome name.
	Outcomes map[string]int64 `yaml:"outcomes,omitempty"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe. A nil *Collector records nothing.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	outcomes  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		outcomes:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(duration time.Duration, err error) {
	m.Count++
	if err != nil {
		m.Errors++
	}
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation. A non-nil err counts as a failure.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).observe(duration, err)
}

// RecordSend records a chat send with the token usage the platform reported.
func (c *Collector) RecordSend(duration time.Duration, inputTokens, outputTokens int64, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(OpSend)
	m.observe(duration, err)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
}

// RecordOutcome counts one dispatch outcome.
func (c *Collector) RecordOutcome(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[outcome]++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Send:          snapshotOp(c.ops[OpSend], true),
		Poll:          snapshotOp(c.ops[OpPoll], false),
		Lookup:        snapshotOp(c.ops[OpLookup], false),
		Create:        snapshotOp(c.ops[OpCreate], false),
		Outcomes:      maps.Clone(c.outcomes),
	}
}
