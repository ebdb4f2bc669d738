package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore persists sessions in Postgres. The TTL is enforced at the
// store level: expired rows are invisible to every query and reaped
// opportunistically, independent of application logic.
type PostgresStore struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(db *sqlx.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

type sessionRow struct {
	ID        string         `db:"id"`
	OwnerID   sql.NullString `db:"owner_id"`
	State     string         `db:"state"`
	Messages  []byte         `db:"messages"`
	Scratch   []byte         `db:"scratch"`
	Version   int64          `db:"version"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (s *PostgresStore) Create(ctx context.Context, session *Session) error {
	messagesJSON, scratchJSON, err := encodeSession(session)
	if err != nil {
		return err
	}

	session.Version = 1

	query := `
		INSERT INTO sessions (id, owner_id, state, messages, scratch, version, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7, NOW() + $8::interval)
	`
	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		nullString(session.OwnerID),
		string(session.State),
		messagesJSON,
		scratchJSON,
		session.CreatedAt,
		session.UpdatedAt,
		s.ttl.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	query := `
		SELECT id, owner_id, state, messages, scratch, version, created_at, updated_at
		FROM sessions
		WHERE id = $1 AND expires_at > NOW()
	`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeSession(&row)
}

func (s *PostgresStore) Put(ctx context.Context, session *Session) error {
	messagesJSON, scratchJSON, err := encodeSession(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE sessions
		SET state = $1, messages = $2, scratch = $3,
		    version = version + 1, updated_at = NOW(),
		    expires_at = NOW() + $4::interval
		WHERE id = $5 AND version = $6 AND expires_at > NOW()
	`
	res, err := s.db.ExecContext(ctx, query,
		string(session.State),
		messagesJSON,
		scratchJSON,
		s.ttl.String(),
		session.ID,
		session.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if affected == 0 {
		// Disambiguate: gone vs. lost the race.
		if _, err := s.Get(ctx, session.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	session.Version++
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 AND expires_at > NOW()`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return affected > 0, nil
}

// ReapExpired hard-deletes soft-expired rows. Intended for a periodic
// maintenance call; correctness never depends on it running.
func (s *PostgresStore) ReapExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func encodeSession(session *Session) (messagesJSON, scratchJSON []byte, err error) {
	messagesJSON, err = json.Marshal(session.Messages)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	scratch := session.Scratch
	if scratch == nil {
		scratch = map[string]interface{}{}
	}
	scratchJSON, err = json.Marshal(scratch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode scratch: %w", err)
	}
	return messagesJSON, scratchJSON, nil
}

func decodeSession(row *sessionRow) (*Session, error) {
	session := &Session{
		ID:        row.ID,
		OwnerID:   row.OwnerID.String,
		State:     State(row.State),
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Messages, &session.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if err := json.Unmarshal(row.Scratch, &session.Scratch); err != nil {
		return nil, fmt.Errorf("failed to decode scratch: %w", err)
	}
	return session, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
