package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/control"
)

// Event kinds.
const (
	KindTransition = "transition"
	KindEdit       = "edit"
)

// Edit sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// occurredLayout is fixed width so occurred_at sorts as text.
const occurredLayout = "2006-01-02T15:04:05.000000000Z"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ErrInvalidEvent is returned for an event missing its actuator.
var ErrInvalidEvent = errors.New("history: invalid event")

// Event is one row of actuator history.
type Event struct {
	ID         string           `json:"id"`
	Category   brewery.Category `json:"category"`
	ActuatorID string           `json:"actuator_id"`
	Kind       string           `json:"kind"`

	// Transition fields.
	From   brewery.Status `json:"from,omitempty"`
	To     brewery.Status `json:"to,omitempty"`
	Value  *float64       `json:"value,omitempty"`
	Unit   brewery.Unit   `json:"unit,omitempty"`
	Reason string         `json:"reason,omitempty"`

	// Edit fields.
	Fields map[string]any `json:"fields,omitempty"`
	Source string         `json:"source,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Edit is an operator change to an actuator.
type Edit struct {
	Category   brewery.Category
	ActuatorID string
	Fields     map[string]any

	// Corrections are the invariant fixes the store applied to the edit.
	Corrections []brewery.InvariantViolation
	Source      string
	At          time.Time
}

// Filter selects history rows.
type Filter struct {
	ActuatorID string // required
	Kind       string // optional: transition or edit
	Since      time.Time
	Limit      int // default 50, max 500
}

// Repository records and lists actuator events.
type Repository interface {
	RecordTransition(ctx context.Context, t control.Transition) error
	RecordEdit(ctx context.Context, e Edit) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// SQLiteRepository implements Repository on the actuator_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository. The schema comes from the
// migrations package.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordTransition stores a control engine switch.
func (r *SQLiteRepository) RecordTransition(ctx context.Context, t control.Transition) error {
	value := t.Value
	return r.insert(ctx, Event{
		Category:   t.Category,
		ActuatorID: t.ActuatorID,
		Kind:       KindTransition,
		From:       t.From,
		To:         t.To,
		Value:      &value,
		Unit:       t.Unit,
		Reason:     string(t.Reason),
		OccurredAt: t.At,
	})
}

// RecordEdit stores an operator edit. Corrections are kept in the reason.
func (r *SQLiteRepository) RecordEdit(ctx context.Context, e Edit) error {
	var reasons []string
	for _, c := range e.Corrections {
		reasons = append(reasons, fmt.Sprintf("%s %g->%g: %s", c.Field, c.Requested, c.Applied, c.Reason))
	}
	return r.insert(ctx, Event{
		Category:   e.Category,
		ActuatorID: e.ActuatorID,
		Kind:       KindEdit,
		Fields:     e.Fields,
		Source:     e.Source,
		Reason:     strings.Join(reasons, "; "),
		OccurredAt: e.At,
	})
}

func (r *SQLiteRepository) insert(ctx context.Context, ev Event) error {
	if ev.ActuatorID == "" || ev.Category == "" {
		return fmt.Errorf("%w: category and actuator are required", ErrInvalidEvent)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	var fieldsJSON *string
	if ev.Fields != nil {
		b, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("marshalling edit fields: %w", err)
		}
		s := string(b)
		fieldsJSON = &s
	}

	var value any
	if ev.Value != nil {
		value = *ev.Value
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO actuator_events
		   (id, category, actuator_id, kind, from_status, to_status, value, unit, reason, fields, source, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Category), ev.ActuatorID, ev.Kind,
		nullableString(string(ev.From)), nullableString(string(ev.To)),
		value, nullableString(string(ev.Unit)), nullableString(ev.Reason),
		fieldsJSON, nullableString(ev.Source),
		ev.OccurredAt.UTC().Format(occurredLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting actuator event: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events for one actuator, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Event, error) {
	if filter.ActuatorID == "" {
		return nil, fmt.Errorf("%w: actuator is required", ErrInvalidEvent)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	conditions := []string{"actuator_id = ?"}
	args := []any{filter.ActuatorID}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(occurredLayout))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, category, actuator_id, kind, from_status, to_status, value, unit, reason, fields, source, occurred_at
		   FROM actuator_events WHERE %s ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		strings.Join(conditions, " AND "),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actuator events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuator events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev                                         Event
		category, occurred                         string
		from, to, unit, reason, fieldsJSON, source sql.NullString
		value                                      sql.NullFloat64
	)
	if err := rows.Scan(&ev.ID, &category, &ev.ActuatorID, &ev.Kind,
		&from, &to, &value, &unit, &reason, &fieldsJSON, &source, &occurred); err != nil {
		return Event{}, fmt.Errorf("scanning actuator event: %w", err)
	}

	ev.Category = brewery.Category(category)
	ev.From = brewery.Status(from.String)
	ev.To = brewery.Status(to.String)
	ev.Unit = brewery.Unit(unit.String)
	ev.Reason = reason.String
	ev.Source = source.String
	if value.Valid {
		v := value.Float64
		ev.Value = &v
	}
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		var fields map[string]any
		if json.Unmarshal([]byte(fieldsJSON.String), &fields) == nil {
			ev.Fields = fields
		}
	}

	t, err := time.Parse(occurredLayout, occurred)
	if err != nil {
		return Event{}, fmt.Errorf("parsing event timestamp %q: %w", occurred, err)
	}
	ev.OccurredAt = t
	return ev, nil
}
