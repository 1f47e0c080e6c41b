// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides message/conversation persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
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

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
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

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
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
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_members (
			conversation_id TEXT NOT NULL,
			user_id         TEXT NOT NULL,

			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_members_user
			ON conversation_members(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL,
			sender_id         TEXT NOT NULL,
			content           TEXT NOT NULL,
			type              TEXT NOT NULL DEFAULT 'text',
			metadata_json     TEXT,
			parent_message_id TEXT,
			created_at        DATETIME NOT NULL,
			edited_at         DATETIME,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (type IN ('text', 'image', 'file'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// CreateConversation inserts a conversation and its member rows.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.OwnerID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, userID := range conv.MemberIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversation_members (conversation_id, user_id) VALUES (?, ?)`,
			conv.ID, userID,
		)
		if err != nil {
			return fmt.Errorf("inserting member: %w", err)
		}
	}

	return tx.Commit()
}

// GetConversation returns a conversation with its member IDs.
// Returns ErrNotFound if the conversation does not exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.OwnerID, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_members WHERE conversation_id = ? ORDER BY user_id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		conv.MemberIDs = append(conv.MemberIDs, userID)
	}
	return conv, rows.Err()
}

// CreateMessage inserts a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	metadata, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeText
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, metadata_json, parent_message_id, created_at, edited_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msgType,
		metadata, nullString(msg.ParentMessageID), msg.CreatedAt, msg.EditedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage returns a message by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender_id, content, type, metadata_json, parent_message_id, created_at, edited_at
		 FROM messages WHERE id = ?`, id,
	)
	return scanMessage(row)
}

// UpdateMessage updates a message's content, metadata, and edit timestamp.
// Returns ErrNotFound if the message does not exist.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *Message) error {
	metadata, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, metadata_json = ?, edited_at = ? WHERE id = ?`,
		msg.Content, metadata, msg.EditedAt, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationMessages returns the most recent messages of a conversation
// in chronological order, up to limit (0 means a default of 100).
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, content, type, metadata_json, parent_message_id, created_at, edited_at
		 FROM (
			SELECT * FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanMessage.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	msg := &Message{}
	var metadata, parentID sql.NullString
	var editedAt sql.NullTime

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content,
		&msg.Type, &metadata, &parentID, &msg.CreatedAt, &editedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	if parentID.Valid {
		msg.ParentMessageID = parentID.String
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	return msg, nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
