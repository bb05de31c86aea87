// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/reference/group persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			web_conversation_id TEXT,
			target_conversation_id TEXT,
			target_request_activity_id TEXT,
			status TEXT NOT NULL,
			display_name TEXT,
			email_address TEXT,
			phone_number TEXT,
			subject TEXT,
			description TEXT,
			closing_notes TEXT,
			target_group_id TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT,

			CHECK (status IN ('requested', 'unanswered', 'in_progress', 'ended'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_web
			ON conversations(web_conversation_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_target
			ON conversations(target_conversation_id);

		CREATE TABLE IF NOT EXISTS session_references (
			channel TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			reference TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (channel, conversation_id)
		);

		CREATE TABLE IF NOT EXISTS target_groups (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			is_visible INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_target_groups_visible
			ON target_groups(is_visible, display_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertConversation creates or updates a conversation record. On update
// only the mutable fields (correlation ids, status, closing notes, ended_at)
// are written; submitted fields and started_at are immutable once set.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, rec *ConversationRecord) error {
	query := `
		INSERT INTO conversations (
			id, web_conversation_id, target_conversation_id, target_request_activity_id,
			status, display_name, email_address, phone_number, subject, description,
			closing_notes, target_group_id, started_at, ended_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			web_conversation_id = excluded.web_conversation_id,
			target_conversation_id = excluded.target_conversation_id,
			target_request_activity_id = excluded.target_request_activity_id,
			status = excluded.status,
			closing_notes = excluded.closing_notes,
			ended_at = excluded.ended_at
	`

	var endedAt any
	if rec.EndedAt != nil {
		endedAt = rec.EndedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		nullString(rec.WebConversationID),
		nullString(rec.TargetConversationID),
		nullString(rec.TargetRequestActivityID),
		string(rec.Status),
		nullString(rec.DisplayName),
		nullString(rec.EmailAddress),
		nullString(rec.PhoneNumber),
		nullString(rec.Subject),
		nullString(rec.Description),
		nullString(rec.ClosingNotes),
		nullString(rec.TargetGroupID),
		rec.StartedAt.UTC().Format(time.RFC3339),
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	s.logger.Debug("upserted conversation", "id", rec.ID, "status", rec.Status)
	return nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const conversationColumns = `
	id, web_conversation_id, target_conversation_id, target_request_activity_id,
	status, display_name, email_address, phone_number, subject, description,
	closing_notes, target_group_id, started_at, ended_at
`

// GetConversation retrieves a conversation record by ID.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversationByWebID retrieves the most recently started conversation
// record correlated with the given web-channel conversation id.
// Returns ErrNotFound if no record matches.
func (s *SQLiteStore) GetConversationByWebID(ctx context.Context, webConversationID string) (*ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE web_conversation_id = ?
		 ORDER BY started_at DESC
		 LIMIT 1`, webConversationID)
	return scanConversation(row)
}

// GetConversationByTargetID retrieves the most recently started conversation
// record correlated with the given target-channel conversation id.
// Returns ErrNotFound if no record matches.
func (s *SQLiteStore) GetConversationByTargetID(ctx context.Context, targetConversationID string) (*ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE target_conversation_id = ?
		 ORDER BY started_at DESC
		 LIMIT 1`, targetConversationID)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*ConversationRecord, error) {
	var rec ConversationRecord
	var webID, targetID, activityID sql.NullString
	var displayName, email, phone, subject, description, notes, groupID sql.NullString
	var startedAt string
	var endedAt sql.NullString

	err := row.Scan(
		&rec.ID, &webID, &targetID, &activityID,
		&rec.Status, &displayName, &email, &phone, &subject, &description,
		&notes, &groupID, &startedAt, &endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	rec.WebConversationID = webID.String
	rec.TargetConversationID = targetID.String
	rec.TargetRequestActivityID = activityID.String
	rec.DisplayName = displayName.String
	rec.EmailAddress = email.String
	rec.PhoneNumber = phone.String
	rec.Subject = subject.String
	rec.Description = description.String
	rec.ClosingNotes = notes.String
	rec.TargetGroupID = groupID.String

	rec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		rec.EndedAt = &t
	}

	return &rec, nil
}

// UpsertReference creates or overwrites a session reference. Last write wins.
func (s *SQLiteStore) UpsertReference(ctx context.Context, ref *SessionReference) error {
	query := `
		INSERT INTO session_references (channel, conversation_id, reference, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel, conversation_id) DO UPDATE SET
			reference = excluded.reference,
			updated_at = excluded.updated_at
	`

	updatedAt := ref.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		ref.Channel,
		ref.ConversationID,
		string(ref.Reference),
		updatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting reference: %w", err)
	}

	s.logger.Debug("upserted reference", "channel", ref.Channel, "conversation_id", ref.ConversationID)
	return nil
}

// GetReference retrieves the session reference for a channel conversation.
// Returns ErrNotFound if none has been captured.
func (s *SQLiteStore) GetReference(ctx context.Context, channel, conversationID string) (*SessionReference, error) {
	query := `
		SELECT channel, conversation_id, reference, updated_at
		FROM session_references
		WHERE channel = ? AND conversation_id = ?
	`

	var ref SessionReference
	var blob, updatedAt string

	err := s.db.QueryRowContext(ctx, query, channel, conversationID).Scan(
		&ref.Channel, &ref.ConversationID, &blob, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying reference: %w", err)
	}

	ref.Reference = []byte(blob)
	ref.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &ref, nil
}

// UpsertTargetGroup creates or updates a target group.
func (s *SQLiteStore) UpsertTargetGroup(ctx context.Context, group *TargetGroup) error {
	now := time.Now()
	createdAt := group.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO target_groups (id, display_name, is_visible, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			is_visible = excluded.is_visible,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		group.ID,
		group.DisplayName,
		group.IsVisible,
		createdAt.UTC().Format(time.RFC3339),
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting target group: %w", err)
	}

	s.logger.Debug("upserted target group", "id", group.ID, "display_name", group.DisplayName)
	return nil
}

// GetTargetGroup retrieves a target group by ID.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) GetTargetGroup(ctx context.Context, id string) (*TargetGroup, error) {
	query := `
		SELECT id, display_name, is_visible, created_at, updated_at
		FROM target_groups
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	group, err := scanTargetGroup(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return group, err
}

// ListVisibleTargetGroups returns all visible target groups ordered by
// display name.
func (s *SQLiteStore) ListVisibleTargetGroups(ctx context.Context) ([]*TargetGroup, error) {
	query := `
		SELECT id, display_name, is_visible, created_at, updated_at
		FROM target_groups
		WHERE is_visible = 1
		ORDER BY display_name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying target groups: %w", err)
	}
	defer rows.Close()

	var groups []*TargetGroup
	for rows.Next() {
		group, err := scanTargetGroup(rows.Scan)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating target group rows: %w", err)
	}

	return groups, nil
}

func scanTargetGroup(scan func(dest ...any) error) (*TargetGroup, error) {
	var group TargetGroup
	var createdAt, updatedAt string

	if err := scan(&group.ID, &group.DisplayName, &group.IsVisible, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning target group: %w", err)
	}

	var err error
	group.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	group.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &group, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
