package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// List page sizes.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded write.
type Entry struct {
	ID     string `json:"id"`
	PV     string `json:"pv"`
	Value  string `json:"value"` // JSON encoding of the written value
	Source string `json:"source"`
	// Outcome is "ok" or "callback_error".
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	PV      string // optional: exact PV name
	Source  string // optional: source prefix, e.g. "mqtt" or "http:console-1"
	Outcome string // optional
	Limit   int    // default 50, max 200
	Offset  int
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the put log operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the put log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a put log repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "put-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO put_log (id, pv, value, source, outcome, error, duration_us, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PV, e.Value, e.Source, e.Outcome,
		nullableString(e.Error),
		e.Duration.Microseconds(),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting put log entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so the column stays NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// escapeLike escapes LIKE wildcards in a user-supplied prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.PV != "" {
		conditions = append(conditions, "pv = ?")
		args = append(args, filter.PV)
	}
	if filter.Source != "" {
		conditions = append(conditions, `source LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(filter.Source)+"%")
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM put_log " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting put log entries: %w", err)
	}

	query := "SELECT id, pv, value, source, outcome, error, duration_us, created_at FROM put_log " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying put log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var errText sql.NullString
		var durationUS int64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.PV, &e.Value, &e.Source, &e.Outcome,
			&errText, &durationUS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning put log entry: %w", err)
		}
		e.Error = errText.String
		e.Duration = time.Duration(durationUS) * time.Microsecond

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing put log timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating put log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
