package databases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ToolPerformance is one external tool's running success-rate/latency
// tally (spec.md §4.12: "per-tool performance is recorded for external
// tools on every invocation").
type ToolPerformance struct {
	ToolName        string
	InvocationCount int
	SuccessCount    int
	TotalLatencyMs  int64
	LastInvokedAt   time.Time
}

// SuccessRate is zero-value-safe: an unrecorded tool reports 0, not NaN.
func (t ToolPerformance) SuccessRate() float64 {
	if t.InvocationCount == 0 {
		return 0
	}
	return float64(t.SuccessCount) / float64(t.InvocationCount)
}

// AverageLatencyMs is zero-value-safe for the same reason.
func (t ToolPerformance) AverageLatencyMs() float64 {
	if t.InvocationCount == 0 {
		return 0
	}
	return float64(t.TotalLatencyMs) / float64(t.InvocationCount)
}

// ToolPerformanceStore is the durable per-tool invocation tally.
type ToolPerformanceStore struct {
	pool *pgxpool.Pool
}

// NewToolPerformanceStore builds a Postgres-backed tool performance store.
func NewToolPerformanceStore(pool *pgxpool.Pool) *ToolPerformanceStore {
	return &ToolPerformanceStore{pool: pool}
}

// Record tallies one tool invocation's outcome and latency.
func (s *ToolPerformanceStore) Record(ctx context.Context, toolName string, success bool, latency time.Duration) error {
	successCount := 0
	if success {
		successCount = 1
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO tool_performance (tool_name, invocation_count, success_count, total_latency_ms, last_invoked_at, updated_at)
VALUES ($1, 1, $2, $3, NOW(), NOW())
ON CONFLICT (tool_name) DO UPDATE SET
    invocation_count = tool_performance.invocation_count + 1,
    success_count = tool_performance.success_count + EXCLUDED.success_count,
    total_latency_ms = tool_performance.total_latency_ms + EXCLUDED.total_latency_ms,
    last_invoked_at = NOW(),
    updated_at = NOW()`,
		toolName, successCount, latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("record tool performance: %w", err)
	}
	return nil
}

// Get returns one tool's tally, the zero value if never recorded.
func (s *ToolPerformanceStore) Get(ctx context.Context, toolName string) (ToolPerformance, error) {
	var t ToolPerformance
	t.ToolName = toolName
	var lastInvoked *time.Time
	row := s.pool.QueryRow(ctx, `
SELECT invocation_count, success_count, total_latency_ms, last_invoked_at
FROM tool_performance WHERE tool_name = $1`, toolName)
	if err := row.Scan(&t.InvocationCount, &t.SuccessCount, &t.TotalLatencyMs, &lastInvoked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, nil
		}
		return ToolPerformance{}, fmt.Errorf("get tool performance: %w", err)
	}
	if lastInvoked != nil {
		t.LastInvokedAt = *lastInvoked
	}
	return t, nil
}
