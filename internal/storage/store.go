package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle behind the hub server: user accounts,
// session tokens, and the persisted space registry. Message logs are not
// stored here; durability of history is the client cache's job.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table. The id is the 5-digit numeric
// string the user signs up with.
type User struct {
	ID           string
	Nickname     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session captures persisted logins.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SpaceRecord is a persisted space with its ordered member list.
type SpaceRecord struct {
	ID      string
	Name    string
	Members []string
}

// ErrUserExists is returned when attempting to insert a duplicate user id.
var ErrUserExists = errors.New("user already exists")

// ErrMemberExists is returned when a space member row is already present.
var ErrMemberExists = errors.New("member already exists")

// NewStore initializes the SQLite database at the provided path. Call Close
// when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "spacechat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			nickname TEXT NOT NULL,
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS spaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS space_members (
			space_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (space_id, user_id),
			FOREIGN KEY(space_id) REFERENCES spaces(id) ON DELETE CASCADE
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, id, nickname string, passwordHash []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id, nickname, password_hash) VALUES(?, ?, ?)`, id, nickname, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// GetUser fetches a user by id. A missing user is (nil, nil).
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, nickname, password_hash, created_at FROM users WHERE id = ?`, id)
	var user User
	if err := row.Scan(&user.ID, &user.Nickname, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateSession stores a new session token for a user.
func (s *Store) CreateSession(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions(token, user_id, expires_at) VALUES(?, ?, ?)`, token, userID, expiresAt.UTC())
	return err
}

// GetSession returns a session if it exists.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?`, token)
	var sess Session
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a session token (used for logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// SaveSpace persists a newly created space together with its member list.
func (s *Store) SaveSpace(ctx context.Context, record SpaceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var position int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM spaces`).Scan(&position); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO spaces(id, name, position) VALUES(?, ?, ?)`, record.ID, record.Name, position); err != nil {
		return err
	}
	for i, member := range record.Members {
		if _, err = tx.ExecContext(ctx, `INSERT INTO space_members(space_id, user_id, position) VALUES(?, ?, ?)`, record.ID, member, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddSpaceMember appends one member row. ErrMemberExists signals a duplicate.
func (s *Store) AddSpaceMember(ctx context.Context, spaceID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var existing int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM space_members WHERE space_id = ? AND user_id = ?`, spaceID, userID).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		err = ErrMemberExists
		return err
	}
	var position int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM space_members WHERE space_id = ?`, spaceID).Scan(&position); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO space_members(space_id, user_id, position) VALUES(?, ?, ?)`, spaceID, userID, position); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSpaces loads every persisted space with its ordered members, in the
// order the spaces were created. Used to rebuild the registry at startup.
func (s *Store) ListSpaces(ctx context.Context) ([]SpaceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM spaces ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SpaceRecord
	for rows.Next() {
		var record SpaceRecord
		if err := rows.Scan(&record.ID, &record.Name); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		memberRows, err := s.db.QueryContext(ctx, `SELECT user_id FROM space_members WHERE space_id = ? ORDER BY position ASC`, records[i].ID)
		if err != nil {
			return nil, err
		}
		for memberRows.Next() {
			var member string
			if err := memberRows.Scan(&member); err != nil {
				_ = memberRows.Close()
				return nil, err
			}
			records[i].Members = append(records[i].Members, member)
		}
		if err := memberRows.Err(); err != nil {
			_ = memberRows.Close()
			return nil, err
		}
		_ = memberRows.Close()
	}
	return records, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
