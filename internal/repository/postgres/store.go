package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"postcraft/internal/domain"
)

const uniqueViolation = "23505"

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps user profiles and events in Postgres.
type Store struct {
	db querier
}

func NewStore(db querier) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: querier must not be nil")
	}
	return &Store{db: db}, nil
}

const insertUserSQL = `
INSERT INTO users (external_id, first_name, last_name, is_bot, display_handle, prompt_tokens_used, completion_tokens_used, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), 0, 0, $6)
ON CONFLICT (external_id) DO NOTHING`

const selectUserSQL = `
SELECT external_id, first_name, last_name, is_bot, COALESCE(display_handle, ''),
       prompt_tokens_used, completion_tokens_used, created_at
FROM users WHERE external_id = $1`

// EnsureUser inserts the profile unless the external id exists, then returns
// the stored row.
func (s *Store) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ExternalID == "" {
		return domain.User{}, errors.New("postgres: EnsureUser: external id is required")
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(ctx, insertUserSQL, u.ExternalID, u.FirstName, u.LastName, u.IsBot, u.DisplayHandle, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, fmt.Errorf("postgres: EnsureUser %q: %w", u.DisplayHandle, domain.ErrHandleTaken)
		}
		return domain.User{}, fmt.Errorf("postgres: EnsureUser insert: %w", err)
	}
	stored, err := s.GetUser(ctx, u.ExternalID)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: EnsureUser: %w", err)
	}
	return stored, nil
}

func (s *Store) GetUser(ctx context.Context, externalID string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, selectUserSQL, externalID).Scan(
		&u.ExternalID, &u.FirstName, &u.LastName, &u.IsBot, &u.DisplayHandle,
		&u.PromptTokensUsed, &u.CompletionTokensUsed, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: GetUser scan: %w", err)
	}
	return u, nil
}

const addUsageSQL = `
UPDATE users
SET prompt_tokens_used = prompt_tokens_used + $2,
    completion_tokens_used = completion_tokens_used + $3
WHERE external_id = $1`

// AddUsage increments both counters in a single statement.
func (s *Store) AddUsage(ctx context.Context, userID string, usage domain.Usage) error {
	tag, err := s.db.Exec(ctx, addUsageSQL, userID, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return fmt.Errorf("postgres: AddUsage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: AddUsage %q: %w", userID, domain.ErrUserNotFound)
	}
	return nil
}

const insertEventSQL = `INSERT INTO events (id, owner_id, text, created_at) VALUES ($1, $2, $3, $4)`

func (s *Store) InsertEvent(ctx context.Context, e domain.Event) error {
	if e.OwnerID == "" || e.ID == "" {
		return errors.New("postgres: InsertEvent: owner and id are required")
	}
	if _, err := s.db.Exec(ctx, insertEventSQL, e.ID, e.OwnerID, e.Text, e.CreatedAt); err != nil {
		return fmt.Errorf("postgres: InsertEvent: %w", err)
	}
	return nil
}

const eventsBetweenSQL = `
SELECT id, owner_id, text, created_at
FROM events
WHERE owner_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY seq ASC`

// EventsBetween returns the owner's events created in [from, to] in insertion order.
func (s *Store) EventsBetween(ctx context.Context, ownerID string, from, to time.Time) ([]domain.Event, error) {
	rows, err := s.db.Query(ctx, eventsBetweenSQL, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: EventsBetween query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: EventsBetween scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: EventsBetween rows: %w", err)
	}
	return out, nil
}
