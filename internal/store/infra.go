package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
)

// Compile-time check to ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)

type Options struct {
	Driver string // DriverSQLite (default) or DriverPostgres
	DSN    string
	Logger *logger.Logger
	// Now overrides the wall clock, mostly for tests.
	Now func() time.Time
}

// SQLStore keeps a single writer: every write transaction runs under mu,
// readers share the read lock.
type SQLStore struct {
	db     *sql.DB
	driver string
	log    *logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	lastStamp int64
}

func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	stmts, err := schema(driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	if driver == DriverSQLite {
		if dsn == "" {
			dsn = "conversations.db"
		}
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, driver, err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		log:    log.With("component", "store", "driver", driver),
		now:    now,
	}

	if err := s.withTx(ctx, "migrate", func(tx *sql.Tx, _ int64) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.log.Info("store ready")
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// stamp returns a strictly increasing microsecond timestamp. Callers hold mu.
func (s *SQLStore) stamp() int64 {
	ts := s.now().UnixMicro()
	if ts <= s.lastStamp {
		ts = s.lastStamp + 1
	}
	s.lastStamp = ts
	return ts
}

func (s *SQLStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx, now int64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	if err := fn(tx, s.stamp()); err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

// ------------------------------------------------------------
// clients

func (s *SQLStore) GetOrCreateClient(ctx context.Context, externalID string, info ClientInfo) (int64, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return 0, validationErr("external client id is empty")
	}

	id, err := s.getOrCreateClient(ctx, externalID, info)
	if errors.Is(err, ErrIntegrity) {
		// another process inserted the same external id between our select and insert
		s.log.Warn("client insert raced, retrying", "external_id", externalID)
		id, err = s.getOrCreateClient(ctx, externalID, info)
	}
	return id, err
}

func (s *SQLStore) getOrCreateClient(ctx context.Context, externalID string, info ClientInfo) (int64, error) {
	var id int64
	created := false

	err := s.withTx(ctx, "get or create client", func(tx *sql.Tx, now int64) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM clients WHERE external_id = $1`, externalID,
		).Scan(&id)

		switch {
		case err == nil:
			if info.empty() {
				return nil
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE clients
				SET name = COALESCE($1, name),
				    phone = COALESCE($2, phone),
				    email = COALESCE($3, email),
				    updated_at = $4
				WHERE id = $5
			`, info.Name, info.Phone, info.Email, now, id)
			return err

		case errors.Is(err, sql.ErrNoRows):
			created = true
			return tx.QueryRowContext(ctx, `
				INSERT INTO clients (external_id, name, phone, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $5)
				RETURNING id
			`, externalID, info.Name, info.Phone, info.Email, now).Scan(&id)

		default:
			return err
		}
	})
	if err != nil {
		return 0, err
	}

	if created {
		s.log.Debug("client created", "client_id", id, "external_id", externalID)
	}
	return id, nil
}

func (s *SQLStore) GetClient(ctx context.Context, clientID int64) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c                    Client
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, phone, email, created_at, updated_at
		FROM clients
		WHERE id = $1
	`, clientID).Scan(&c.ID, &c.ExternalID, &c.Name, &c.Phone, &c.Email, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %d: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get client", err)
	}

	c.CreatedAt = time.UnixMicro(createdAt)
	c.UpdatedAt = time.UnixMicro(updatedAt)
	return &c, nil
}

// ------------------------------------------------------------
// conversations

func (s *SQLStore) GetOrCreateConversation(ctx context.Context, clientID int64, externalDealID *string) (int64, error) {
	if clientID <= 0 {
		return 0, validationErr("client id must be positive, got %d", clientID)
	}

	var id int64
	created := false

	err := s.withTx(ctx, "get or create conversation", func(tx *sql.Tx, now int64) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM conversations
			WHERE client_id = $1 AND status = 'active'
			ORDER BY last_activity DESC, id DESC
			LIMIT 1
		`, clientID).Scan(&id)

		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE conversations
				SET last_activity = $1,
				    external_deal_id = COALESCE(external_deal_id, $2)
				WHERE id = $3
			`, now, externalDealID, id)
			return err

		case errors.Is(err, sql.ErrNoRows):
			var one int
			err = tx.QueryRowContext(ctx, `SELECT 1 FROM clients WHERE id = $1`, clientID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("client %d: %w", clientID, ErrNotFound)
			}
			if err != nil {
				return err
			}

			created = true
			return tx.QueryRowContext(ctx, `
				INSERT INTO conversations (client_id, external_deal_id, status, context_summary, created_at, last_activity)
				VALUES ($1, $2, 'active', '{}', $3, $3)
				RETURNING id
			`, clientID, externalDealID, now).Scan(&id)

		default:
			return err
		}
	})
	if err != nil {
		return 0, err
	}

	if created {
		s.log.Debug("conversation created", "conversation_id", id, "client_id", clientID)
	}
	return id, nil
}

func (s *SQLStore) GetConversation(ctx context.Context, conversationID int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c                       Conversation
		status, summary         string
		createdAt, lastActivity int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, external_deal_id, status, context_summary, created_at, last_activity
		FROM conversations
		WHERE id = $1
	`, conversationID).Scan(&c.ID, &c.ClientID, &c.ExternalDealID, &status, &summary, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get conversation", err)
	}

	c.Status = Status(status)
	c.CreatedAt = time.UnixMicro(createdAt)
	c.LastActivity = time.UnixMicro(lastActivity)
	c.ContextSummary, err = decodeJSONMap(summary)
	if err != nil {
		s.log.Warn("unreadable context summary, treating as empty", "conversation_id", conversationID, "error", err)
	}
	return &c, nil
}

func (s *SQLStore) MergeContextSummary(ctx context.Context, conversationID int64, update map[string]any) (map[string]any, error) {
	var merged map[string]any

	err := s.withTx(ctx, "merge context summary", func(tx *sql.Tx, _ int64) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT context_summary FROM conversations WHERE id = $1`, conversationID,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		current, err := decodeJSONMap(raw)
		if err != nil {
			s.log.Warn("unreadable context summary, starting over", "conversation_id", conversationID, "error", err)
		}

		b, err := json.Marshal(deepMerge(current, update))
		if err != nil {
			return validationErr("context update is not serializable: %v", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET context_summary = $1 WHERE id = $2`, string(b), conversationID,
		); err != nil {
			return err
		}

		merged, err = decodeJSONMap(string(b))
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *SQLStore) CountActiveConversations(ctx context.Context, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, validationErr("activity window must be positive, got %s", window)
	}
	cutoff := s.now().Add(-window).UnixMicro()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE status = 'active' AND last_activity > $1
	`, cutoff).Scan(&n)
	if err != nil {
		return 0, classify("count active conversations", err)
	}
	return n, nil
}

func (s *SQLStore) MarkStaleConversationsCompleted(ctx context.Context, inactivityDays int) (int64, error) {
	if inactivityDays <= 0 {
		return 0, validationErr("inactivity days must be positive, got %d", inactivityDays)
	}
	cutoff := s.now().Add(-time.Duration(inactivityDays) * 24 * time.Hour).UnixMicro()

	var affected int64
	err := s.withTx(ctx, "mark stale conversations", func(tx *sql.Tx, _ int64) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE conversations
			SET status = 'completed'
			WHERE status = 'active' AND last_activity < $1
		`, cutoff)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.log.Info("stale conversations completed", "count", affected, "inactivity_days", inactivityDays)
	}
	return affected, nil
}

// ------------------------------------------------------------
// messages

func (s *SQLStore) AddMessage(
	ctx context.Context,
	conversationID int64,
	sender Role,
	content string,
	kind string,
	metadata map[string]any,
) (int64, error) {
	if !sender.Valid() {
		return 0, validationErr("unknown sender role %q", sender)
	}
	if strings.TrimSpace(content) == "" {
		return 0, validationErr("message content is empty")
	}
	if kind == "" {
		kind = KindText
	}

	var meta any
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, validationErr("metadata is not serializable: %v", err)
		}
		meta = string(b)
	}

	var id int64
	err := s.withTx(ctx, "add message", func(tx *sql.Tx, now int64) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET last_activity = $1 WHERE id = $2`, now, conversationID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO messages (conversation_id, sender, content, kind, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, conversationID, string(sender), content, kind, meta, now).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) GetRecentMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, validationErr("limit must be positive, got %d", limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, kind, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, classify("get recent messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			sender    string
			meta      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Content, &m.Kind, &meta, &createdAt); err != nil {
			return nil, classify("scan message", err)
		}
		m.Sender = Role(sender)
		m.CreatedAt = time.UnixMicro(createdAt)
		if meta.Valid {
			if m.Metadata, err = decodeJSONMap(meta.String); err != nil {
				s.log.Warn("unreadable message metadata", "message_id", m.ID, "error", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get recent messages", err)
	}

	// newest-first from the query; callers want chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ------------------------------------------------------------
// analytics

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{MessagesByRole: map[Role]int64{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&st.Clients); err != nil {
		return nil, classify("count clients", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM conversations GROUP BY status`)
	if err != nil {
		return nil, classify("count conversations", err)
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, classify("count conversations", err)
		}
		switch Status(status) {
		case StatusActive:
			st.ActiveConversations = n
		case StatusCompleted:
			st.CompletedConversations = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify("count conversations", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT sender, COUNT(*) FROM messages GROUP BY sender`)
	if err != nil {
		return nil, classify("count messages", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sender string
			n      int64
		)
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, classify("count messages", err)
		}
		st.MessagesByRole[Role(sender)] = n
		st.Messages += n
	}
	if err := rows.Err(); err != nil {
		return nil, classify("count messages", err)
	}
	return st, nil
}

// ------------------------------------------------------------
// config

func (s *SQLStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, validationErr("config key is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT config_value FROM config WHERE config_key = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("get config", err)
	}
	return value, true, nil
}

func (s *SQLStore) SetConfig(ctx context.Context, key, value string, description *string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return validationErr("config key is empty")
	}

	return s.withTx(ctx, "set config", func(tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO config (config_key, config_value, description, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (config_key) DO UPDATE
			SET config_value = excluded.config_value,
			    description = COALESCE(excluded.description, config.description),
			    updated_at = excluded.updated_at
		`, key, value, description, now)
		return err
	})
}
