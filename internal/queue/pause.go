package queue

import (
	"context"
	"fmt"
)

// PauseControl is the shared-state service behind the operator pause flag and
// the global concurrency ceiling. It is injectable so tests can substitute a
// fake with controllable state.
type PauseControl interface {
	PauseState(ctx context.Context) (*PauseState, error)
	SetPaused(ctx context.Context, paused bool) error
	SetMaxConcurrent(ctx context.Context, max int) error
}

// Store implements PauseControl against the singleton pause_control row.
var _ PauseControl = (*Store)(nil)

// PauseState reads the singleton control row.
func (s *Store) PauseState(ctx context.Context) (*PauseState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT paused, max_concurrent, updated_at FROM pause_control WHERE id = 1`)
	var state PauseState
	var paused int
	var updated string
	if err := row.Scan(&paused, &state.MaxConcurrent, &updated); err != nil {
		return nil, fmt.Errorf("read pause state: %w", err)
	}
	state.Paused = paused != 0
	state.UpdatedAt = parseTime(updated)
	return &state, nil
}

// SetPaused flips the operator pause flag. Paused download workers defer
// their entries instead of failing them.
func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	value := 0
	if paused {
		value = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE pause_control SET paused = ?, updated_at = ? WHERE id = 1`,
		value, timestamp(),
	)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

// SetMaxConcurrent updates the advertised global concurrency ceiling.
func (s *Store) SetMaxConcurrent(ctx context.Context, max int) error {
	if max < 1 {
		max = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE pause_control SET max_concurrent = ?, updated_at = ? WHERE id = 1`,
		max, timestamp(),
	)
	if err != nil {
		return fmt.Errorf("set max concurrent: %w", err)
	}
	return nil
}
