package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sigreer/ledctl/internal/ledstate"
)

// Event is one recorded LED change
type Event struct {
	ID         int64
	Invocation string
	Args       string
	Controller string
	Slot       string
	Device     string
	OldState   string
	NewState   string
	Timestamp  time.Time
}

// Record appends an accepted write, satisfying ledstate.Recorder
func (j *Journal) Record(ctx context.Context, c ledstate.Change) error {
	_, err := j.conn.ExecContext(ctx, `
		INSERT INTO led_events (invocation, controller, slot, device, old_state, new_state, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.invocation, c.Controller.String(), c.Slot, c.Device, c.From.String(), c.To.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Recent returns the most recent events, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.conn.QueryContext(ctx, `
		SELECT e.id, e.invocation, COALESCE(i.args, ''), e.controller, e.slot, COALESCE(e.device, ''),
		       COALESCE(e.old_state, ''), e.new_state, e.timestamp
		FROM led_events e
		LEFT JOIN invocations i ON i.id = e.invocation
		ORDER BY e.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Invocation, &e.Args, &e.Controller, &e.Slot, &e.Device,
			&e.OldState, &e.NewState, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
