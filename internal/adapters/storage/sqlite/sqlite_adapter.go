package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/dbutil"
	"ollamachat/internal/pkg/logutil"
)

//go:embed migrations/*.sql
var migrations embed.FS

// saveRetries is how often a write is retried on lock contention.
const saveRetries = 3

// Adapter implements the StoragePort interface using SQLite
type Adapter struct {
	db     *sql.DB
	dbw    *dbutil.Wrapper
	logger *logutil.Logger
}

var _ ports.StoragePort = (*Adapter)(nil)

// NewAdapter creates a new SQLite storage adapter
func NewAdapter(dbPath string, logger *logutil.Logger) (*Adapter, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(constants.DatabaseMaxOpenConns)
	db.SetConnMaxLifetime(constants.DatabaseConnMaxLifetime)

	return &Adapter{
		db:     db,
		dbw:    dbutil.NewWrapper(db, constants.DatabaseTimeout),
		logger: logutil.OrGlobal(logger).Component("sqlite"),
	}, nil
}

// Migrate applies the embedded migrations that have not run yet, each in
// its own transaction.
func (a *Adapter) Migrate(ctx context.Context) error {
	_, err := a.dbw.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+constants.MigrationsTableName+` (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	err = a.dbw.Query(ctx, func(rows *sql.Rows) error {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
		return nil
	}, "SELECT version FROM "+constants.MigrationsTableName)
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := strings.TrimSuffix(path.Base(file), ".sql")
		if applied[version] {
			continue
		}

		content, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		err = a.dbw.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO "+constants.MigrationsTableName+" (version) VALUES (?)", version); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		a.logger.Info("Applied migration", logutil.Fields{"version": version})
	}

	return nil
}

// Ping checks database connectivity
func (a *Adapter) Ping(ctx context.Context) error {
	return a.dbw.Ping(ctx)
}

// Close closes the database connection
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Conversation operations
func (a *Adapter) SaveConversation(ctx context.Context, conversation *entities.Conversation) error {
	ids, err := json.Marshal(conversation.MessageIDs)
	if err != nil {
		return fmt.Errorf("failed to encode message ids: %w", err)
	}

	err = a.dbw.SaveWithRetry(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, title, system_prompt_id, message_ids, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				system_prompt_id = excluded.system_prompt_id,
				message_ids = excluded.message_ids,
				updated_at = excluded.updated_at
		`,
			conversation.ID,
			conversation.Title,
			conversation.SystemPromptID,
			string(ids),
			conversation.CreatedAt.UTC(),
			conversation.UpdatedAt.UTC(),
		)
		return err
	}, saveRetries)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

const conversationColumns = `id, title, system_prompt_id, message_ids, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row scanner) (*entities.Conversation, error) {
	var (
		conv entities.Conversation
		ids  string
	)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.SystemPromptID, &ids, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.MessageIDs = make([]string, 0)
	if err := json.Unmarshal([]byte(ids), &conv.MessageIDs); err != nil {
		return nil, fmt.Errorf("failed to decode message ids of %s: %w", conv.ID, err)
	}
	return &conv, nil
}

func (a *Adapter) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	var conv *entities.Conversation
	err := a.dbw.Query(ctx, func(rows *sql.Rows) error {
		c, err := scanConversation(rows)
		conv = c
		return err
	}, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation", id)
	}
	return conv, nil
}

// ListConversations returns conversations most recently updated first.
func (a *Adapter) ListConversations(ctx context.Context) ([]*entities.Conversation, error) {
	conversations := make([]*entities.Conversation, 0)
	err := a.dbw.Query(ctx, func(rows *sql.Rows) error {
		c, err := scanConversation(rows)
		if err != nil {
			return err
		}
		conversations = append(conversations, c)
		return nil
	}, "SELECT "+conversationColumns+" FROM conversations ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// DeleteConversation removes a conversation; its messages go with it
// through the foreign key cascade.
func (a *Adapter) DeleteConversation(ctx context.Context, id string) error {
	res, err := a.dbw.Exec(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("conversation", id)
	}
	return nil
}

// Message operations
func (a *Adapter) SaveMessage(ctx context.Context, message *entities.Message) error {
	var editedAt sql.NullTime
	if message.EditedAt != nil {
		editedAt = sql.NullTime{Time: message.EditedAt.UTC(), Valid: true}
	}
	var parentID sql.NullString
	if message.ParentID != nil {
		parentID = sql.NullString{String: *message.ParentID, Valid: true}
	}

	err := a.dbw.SaveWithRetry(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, model, content, status, parent_id,
				pinned, token_count, failure_reason, created_at, edited_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				status = excluded.status,
				pinned = excluded.pinned,
				token_count = excluded.token_count,
				failure_reason = excluded.failure_reason,
				edited_at = excluded.edited_at
		`,
			message.ID,
			message.ConversationID,
			string(message.Role),
			message.Model,
			message.Content,
			string(message.Status),
			parentID,
			message.Pinned,
			message.TokenCount,
			message.FailureReason,
			message.CreatedAt.UTC(),
			editedAt,
		)
		return err
	}, saveRetries)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, role, model, content, status, parent_id,
	pinned, token_count, failure_reason, created_at, edited_at`

func scanMessage(row scanner) (*entities.Message, error) {
	var (
		m        entities.Message
		role     string
		status   string
		parentID sql.NullString
		editedAt sql.NullTime
	)
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&role,
		&m.Model,
		&m.Content,
		&status,
		&parentID,
		&m.Pinned,
		&m.TokenCount,
		&m.FailureReason,
		&m.CreatedAt,
		&editedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Role = entities.MessageRole(role)
	m.Status = entities.MessageStatus(status)
	if parentID.Valid {
		m.ParentID = &parentID.String
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	return &m, nil
}

func (a *Adapter) GetMessage(ctx context.Context, id string) (*entities.Message, error) {
	var msg *entities.Message
	err := a.dbw.Query(ctx, func(rows *sql.Rows) error {
		m, err := scanMessage(rows)
		msg = m
		return err
	}, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return nil, apperr.NotFound("message", id)
	}
	return msg, nil
}

// GetMessages returns a conversation's messages oldest first.
func (a *Adapter) GetMessages(ctx context.Context, conversationID string) ([]*entities.Message, error) {
	var messages []*entities.Message
	err := a.dbw.Query(ctx, func(rows *sql.Rows) error {
		m, err := scanMessage(rows)
		if err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
		return nil
	}, "SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at ASC", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// DeleteMessages removes the given messages in one transaction. Unknown
// ids are ignored.
func (a *Adapter) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	err := a.dbw.SaveWithRetry(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id IN ("+placeholders+")", args...)
		return err
	}, saveRetries)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// System prompt operations
func (a *Adapter) SaveSystemPrompt(ctx context.Context, prompt *entities.SystemPrompt) error {
	_, err := a.dbw.Exec(ctx, `
		INSERT INTO system_prompts (id, name, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			updated_at = excluded.updated_at
	`,
		prompt.ID,
		prompt.Name,
		prompt.Content,
		prompt.CreatedAt.UTC(),
		prompt.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save system prompt: %w", err)
	}
	return nil
}

func (a *Adapter) GetSystemPrompt(ctx context.Context, id string) (*entities.SystemPrompt, error) {
	var prompt entities.SystemPrompt
	err := a.dbw.QueryRow(ctx,
		"SELECT id, name, content, created_at, updated_at FROM system_prompts WHERE id = ?",
		[]interface{}{id},
		&prompt.ID, &prompt.Name, &prompt.Content, &prompt.CreatedAt, &prompt.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("system prompt", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system prompt: %w", err)
	}
	return &prompt, nil
}

// ListSystemPrompts returns prompts ordered by name.
func (a *Adapter) ListSystemPrompts(ctx context.Context) ([]*entities.SystemPrompt, error) {
	prompts := make([]*entities.SystemPrompt, 0)
	err := a.dbw.Query(ctx, func(rows *sql.Rows) error {
		var p entities.SystemPrompt
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan system prompt: %w", err)
		}
		prompts = append(prompts, &p)
		return nil
	}, "SELECT id, name, content, created_at, updated_at FROM system_prompts ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list system prompts: %w", err)
	}
	return prompts, nil
}

func (a *Adapter) DeleteSystemPrompt(ctx context.Context, id string) error {
	res, err := a.dbw.Exec(ctx, "DELETE FROM system_prompts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete system prompt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("system prompt", id)
	}
	return nil
}

// Vacuum compacts the database file. It is used by the migrate command.
func (a *Adapter) Vacuum(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := a.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
