package conversation

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartConversation(ctx context.Context, streamSID, phoneNumber, phoneNumberSID, callerNumber string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, stream_sid, phone_number, phone_number_sid, caller_number, started_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		 ON CONFLICT (stream_sid) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			phone_number_sid = EXCLUDED.phone_number_sid,
			caller_number = EXCLUDED.caller_number,
			started_at = EXCLUDED.started_at,
			ended_at = NULL,
			duration_seconds = NULL,
			message_count = 0
		 RETURNING id`,
		uuid.NewString(),
		streamSID,
		phoneNumber,
		phoneNumberSID,
		callerNumber,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SaveItems(ctx context.Context, conversationID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for pos, item := range items {
		if item.ID == "" {
			continue
		}
		content, err := json.Marshal(item.Content)
		if err != nil {
			return fmt.Errorf("encode item %s content: %w", item.ID, err)
		}
		if item.Content == nil {
			content = []byte("[]")
		}
		var params []byte
		if len(item.Params) > 0 {
			params = item.Params
		}
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO conversation_items
				(conversation_id, item_id, position, item_type, role, status, content, call_id,
				 function_name, function_arguments, function_params, function_output, created_at)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, ''),
				 NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''), $13)
			 ON CONFLICT (conversation_id, item_id) DO UPDATE SET
				position = EXCLUDED.position,
				item_type = EXCLUDED.item_type,
				role = EXCLUDED.role,
				status = EXCLUDED.status,
				content = EXCLUDED.content,
				call_id = EXCLUDED.call_id,
				function_name = EXCLUDED.function_name,
				function_arguments = EXCLUDED.function_arguments,
				function_params = EXCLUDED.function_params,
				function_output = EXCLUDED.function_output`,
			conversationID,
			item.ID,
			pos,
			item.Type,
			item.Role,
			item.Status,
			content,
			item.CallID,
			item.Name,
			item.Arguments,
			params,
			item.Output,
			createdAt,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	return nil
}

func (s *PostgresStore) EndConversation(ctx context.Context, streamSID string, messageCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET
			ended_at = $2::timestamptz,
			duration_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - started_at))))::BIGINT,
			message_count = $3
		 WHERE stream_sid = $1`,
		streamSID,
		time.Now().UTC(),
		messageCount,
	)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const conversationColumns = `id, stream_sid, phone_number, COALESCE(phone_number_sid, ''), COALESCE(caller_number, ''),
	started_at, ended_at, duration_seconds, message_count`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.StreamSID, &c.PhoneNumber, &c.PhoneNumberSID, &c.CallerNumber,
		&c.StartedAt, &c.EndedAt, &c.DurationSeconds, &c.MessageCount)
	return c, err
}

func (s *PostgresStore) GetConversationByStreamSID(ctx context.Context, streamSID string) (Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE stream_sid = $1`, streamSID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetItems(ctx context.Context, conversationID string) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, item_type, COALESCE(role, ''), COALESCE(status, ''), content, COALESCE(call_id, ''),
			COALESCE(function_name, ''), COALESCE(function_arguments, ''), function_params,
			COALESCE(function_output, ''), created_at
		 FROM conversation_items WHERE conversation_id = $1 ORDER BY position ASC, created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var (
			it      Item
			content []byte
			params  []byte
		)
		if err := rows.Scan(&it.ID, &it.Type, &it.Role, &it.Status, &content, &it.CallID,
			&it.Name, &it.Arguments, &params, &it.Output, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		if len(content) > 0 {
			if err := json.Unmarshal(content, &it.Content); err != nil {
				return nil, fmt.Errorf("decode item %s content: %w", it.ID, err)
			}
		}
		if len(params) > 0 {
			it.Params = json.RawMessage(params)
		}
		it.Object = "realtime.item"
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, filter ListFilter) ([]Conversation, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.PhoneNumber != "" {
		add("phone_number = $%d", filter.PhoneNumber)
	}
	if filter.PhoneNumberSID != "" {
		add("phone_number_sid = $%d", filter.PhoneNumberSID)
	}
	if filter.CallerNumber != "" {
		add("caller_number = $%d", filter.CallerNumber)
	}
	if !filter.Since.IsZero() {
		add("started_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("started_at < $%d", filter.Until)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, streamSID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE stream_sid = $1`, streamSID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
