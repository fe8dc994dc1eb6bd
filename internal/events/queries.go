package events

import (
	"database/sql"
	"fmt"
)

// Event is one row of the pipeline event log.
type Event struct {
	ID         int    `json:"id"`
	PipelineID string `json:"pipeline_id"`
	Type       string `json:"type"`
	Data       string `json:"data"`
	Timestamp  string `json:"timestamp"`
}

// ToolEvent is one row of the tool event log.
type ToolEvent struct {
	ID         int    `json:"id"`
	PipelineID string `json:"pipeline_id"`
	SessionID  string `json:"session_id"`
	Tool       string `json:"tool"`
	CallID     string `json:"call_id"`
	Status     string `json:"status"`
	DurationMs int    `json:"duration_ms"`
	Detail     string `json:"detail"`
	Timestamp  string `json:"timestamp"`
}

// Append appends one pipeline event. Append order is the insertion
// order; the autoincrement id is the ordering key.
func (l *Log) Append(pipelineID, eventType, data string) error {
	_, err := l.conn.Exec(
		`INSERT INTO pipeline_events (pipeline_id, type, data) VALUES (?, ?, ?)`,
		pipelineID, eventType, data,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// AppendTool appends one tool event.
func (l *Log) AppendTool(e ToolEvent) error {
	_, err := l.conn.Exec(
		`INSERT INTO tool_events (pipeline_id, session_id, tool, call_id, status, duration_ms, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.PipelineID, e.SessionID, e.Tool, e.CallID, e.Status, e.DurationMs, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("append tool event: %w", err)
	}
	return nil
}

// Backfill seeds the log for a pipeline. It is idempotent: if the
// pipeline already has any events, the call is a no-op.
func (l *Log) Backfill(pipelineID string, seed []Event) error {
	var count int
	if err := l.conn.QueryRow(
		`SELECT COUNT(*) FROM pipeline_events WHERE pipeline_id = ?`, pipelineID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, e := range seed {
		if err := l.Append(pipelineID, e.Type, e.Data); err != nil {
			return err
		}
	}
	return nil
}

// List returns all events for a pipeline in append order.
func (l *Log) List(pipelineID string) ([]Event, error) {
	rows, err := l.conn.Query(
		`SELECT id, pipeline_id, type, data, timestamp
		 FROM pipeline_events WHERE pipeline_id = ? ORDER BY id ASC`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.PipelineID, &e.Type, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data.Valid {
			e.Data = data.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListTools returns all tool events for a pipeline in append order.
func (l *Log) ListTools(pipelineID string) ([]ToolEvent, error) {
	rows, err := l.conn.Query(
		`SELECT id, pipeline_id, session_id, tool, call_id, status, duration_ms, detail, timestamp
		 FROM tool_events WHERE pipeline_id = ? ORDER BY id ASC`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tool events: %w", err)
	}
	defer rows.Close()

	var events []ToolEvent
	for rows.Next() {
		var e ToolEvent
		var durationMs sql.NullInt64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.PipelineID, &e.SessionID, &e.Tool, &e.CallID, &e.Status, &durationMs, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan tool event: %w", err)
		}
		if durationMs.Valid {
			e.DurationMs = int(durationMs.Int64)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// TypeCounts returns how many events of each type a pipeline has logged.
func (l *Log) TypeCounts(pipelineID string) (map[string]int, error) {
	rows, err := l.conn.Query(
		`SELECT type, COUNT(*) FROM pipeline_events WHERE pipeline_id = ? GROUP BY type`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("count event types: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// ToolDurations returns total tool execution time per tool name, in
// milliseconds, for completed calls.
func (l *Log) ToolDurations(pipelineID string) (map[string]int, error) {
	rows, err := l.conn.Query(
		`SELECT tool, COALESCE(SUM(duration_ms), 0) FROM tool_events
		 WHERE pipeline_id = ? AND status = 'completed' GROUP BY tool`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("sum tool durations: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var tool string
		var ms int
		if err := rows.Scan(&tool, &ms); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		totals[tool] = ms
	}
	return totals, rows.Err()
}
