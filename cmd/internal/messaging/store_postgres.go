package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres-backed stores.
//
// Ownership model:
// - The stores do NOT own the pgx pool. The caller must close the pool.
//
// Concurrency model:
// - The at-most-one-conversation-per-pair invariant is enforced by a unique
//   index on the canonical (participant_low, participant_high) pair with
//   INSERT .. ON CONFLICT DO NOTHING followed by a reselect, so two racing
//   first messages observe the same row.
// - last_updated is advanced with GREATEST so concurrent sends can never
//   move it backwards (content stays last-writer-wins, as accepted).
//
// Expected schema (schema name configurable, default "courier"):
//
//	CREATE TABLE conversations (
//	    id               TEXT PRIMARY KEY,
//	    participant_low  TEXT NOT NULL,
//	    participant_high TEXT NOT NULL,
//	    last_message     TEXT NOT NULL DEFAULT '',
//	    last_updated     TIMESTAMPTZ NOT NULL,
//	    UNIQUE (participant_low, participant_high)
//	);
//
//	CREATE TABLE messages (
//	    id              TEXT PRIMARY KEY,
//	    conversation_id TEXT NOT NULL REFERENCES conversations(id),
//	    sender_id       TEXT NOT NULL,
//	    receiver_id     TEXT NOT NULL,
//	    content         TEXT NOT NULL,
//	    ts              TIMESTAMPTZ NOT NULL,
//	    is_read         BOOLEAN NOT NULL DEFAULT FALSE
//	);
//	CREATE INDEX ON messages (conversation_id, receiver_id) WHERE NOT is_read;
//	CREATE INDEX ON messages (sender_id, receiver_id);

const defaultSchema = "courier"

// PostgresConversationStore is a ConversationStore backed by PostgreSQL.
type PostgresConversationStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresMessageStore is a MessageStore backed by PostgreSQL.
type PostgresMessageStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the schema used by a Postgres store.
type PostgresOption func(schema *string) error

// WithSchema sets the DB schema used by the store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(dst *string) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("messaging: invalid schema identifier")
		}
		*dst = schema
		return nil
	}
}

// NewPostgresConversationStore constructs a Postgres-backed ConversationStore.
func NewPostgresConversationStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresConversationStore, error) {
	st := &PostgresConversationStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&st.schema); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

// NewPostgresMessageStore constructs a Postgres-backed MessageStore.
func NewPostgresMessageStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresMessageStore, error) {
	st := &PostgresMessageStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&st.schema); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

// storeErr maps storage failures onto the error taxonomy: timeouts and
// cancellation become ErrUnavailable (retryable for idempotent callers),
// everything else is wrapped as-is.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OpError{Op: op, Kind: ErrUnavailable, Msg: err.Error()}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ---- ConversationStore ----

const convColumns = `id, participant_low, participant_high, last_message, last_updated`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessage, &c.LastUpdated)
	return c, err
}

// FindBetween looks the conversation up by the canonical participant pair.
func (s *PostgresConversationStore) FindBetween(ctx context.Context, userA, userB string) (Conversation, error) {
	const op = "messaging.FindBetween"
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("messaging: nil store")
	}
	if userA == "" || userB == "" {
		return Conversation{}, invalidInput(op, "empty participant id")
	}

	low, high := PairKey(userA, userB)
	conversations := pgIdent(s.schema, "conversations")

	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+convColumns+` FROM `+conversations+`
		  WHERE participant_low = $1 AND participant_high = $2`,
		low, high,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, notFound(op, "conversation")
	}
	if err != nil {
		return Conversation{}, storeErr(op, err)
	}
	return c, nil
}

// FindAllForUser returns conversations ordered by last_updated DESC.
func (s *PostgresConversationStore) FindAllForUser(ctx context.Context, userID string) ([]Conversation, error) {
	const op = "messaging.FindAllForUser"
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil store")
	}
	if userID == "" {
		return nil, invalidInput(op, "empty user id")
	}

	conversations := pgIdent(s.schema, "conversations")

	rows, err := s.pool.Query(ctx,
		`SELECT `+convColumns+` FROM `+conversations+`
		  WHERE participant_low = $1 OR participant_high = $1
		  ORDER BY last_updated DESC`,
		userID,
	)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// Create resolves-or-creates the conversation for the pair atomically.
func (s *PostgresConversationStore) Create(ctx context.Context, userA, userB string, now time.Time) (Conversation, error) {
	const op = "messaging.CreateConversation"
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("messaging: nil store")
	}
	if userA == "" || userB == "" {
		return Conversation{}, invalidInput(op, "empty participant id")
	}
	if userA == userB {
		return Conversation{}, invalidInput(op, "participants must be distinct")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	low, high := PairKey(userA, userB)
	conversations := pgIdent(s.schema, "conversations")

	// The unique pair index arbitrates racing first messages; the loser's
	// insert is a no-op and the reselect returns the winner's row.
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (id, participant_low, participant_high, last_message, last_updated)
		 VALUES ($1, $2, $3, '', $4)
		 ON CONFLICT (participant_low, participant_high) DO NOTHING`,
		NewConversationID(), low, high, now,
	); err != nil {
		return Conversation{}, storeErr(op, err)
	}

	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+convColumns+` FROM `+conversations+`
		  WHERE participant_low = $1 AND participant_high = $2`,
		low, high,
	))
	if err != nil {
		return Conversation{}, storeErr(op, err)
	}
	return c, nil
}

// Save updates the denormalized cache; last_updated never regresses.
func (s *PostgresConversationStore) Save(ctx context.Context, conv Conversation) error {
	const op = "messaging.SaveConversation"
	if s == nil || s.pool == nil {
		return errors.New("messaging: nil store")
	}
	if conv.ID == "" {
		return invalidInput(op, "empty conversation id")
	}

	conversations := pgIdent(s.schema, "conversations")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+conversations+`
		    SET last_message = $2,
		        last_updated = GREATEST(last_updated, $3)
		  WHERE id = $1`,
		conv.ID, conv.LastMessage, conv.LastUpdated,
	)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op, "conversation")
	}
	return nil
}

// ---- MessageStore ----

const msgColumns = `id, conversation_id, sender_id, receiver_id, content, ts, is_read`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.Read)
	return m, err
}

// Create persists a message with a store-assigned ULID id and timestamp.
func (s *PostgresMessageStore) Create(ctx context.Context, in CreateMessageInput) (Message, error) {
	const op = "messaging.CreateMessage"
	if s == nil || s.pool == nil {
		return Message{}, errors.New("messaging: nil store")
	}
	if in.ConversationID == "" || in.SenderID == "" || in.ReceiverID == "" {
		return Message{}, invalidInput(op, "missing required field")
	}
	if in.SenderID == in.ReceiverID {
		return Message{}, invalidInput(op, "sender and receiver must differ")
	}
	if in.Content == "" {
		return Message{}, invalidInput(op, "empty content")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, storeErr(op, err)
	}

	messages := pgIdent(s.schema, "messages")

	m, err := scanMessage(s.pool.QueryRow(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, sender_id, receiver_id, content, ts, is_read)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		 RETURNING `+msgColumns,
		id, in.ConversationID, in.SenderID, in.ReceiverID, in.Content, now,
	))
	if err != nil {
		return Message{}, storeErr(op, err)
	}
	return m, nil
}

// FindBetween returns all messages exchanged between the pair (unordered).
func (s *PostgresMessageStore) FindBetween(ctx context.Context, userA, userB string) ([]Message, error) {
	const op = "messaging.FindMessagesBetween"
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil store")
	}
	if userA == "" || userB == "" {
		return nil, invalidInput(op, "empty participant id")
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT `+msgColumns+` FROM `+messages+`
		  WHERE (sender_id = $1 AND receiver_id = $2)
		     OR (sender_id = $2 AND receiver_id = $1)`,
		userA, userB,
	)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	return collectMessages(op, rows)
}

// FindUnread returns unread messages addressed to receiverID in the conversation.
func (s *PostgresMessageStore) FindUnread(ctx context.Context, conversationID, receiverID string) ([]Message, error) {
	const op = "messaging.FindUnread"
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil store")
	}
	if conversationID == "" || receiverID == "" {
		return nil, invalidInput(op, "missing required field")
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT `+msgColumns+` FROM `+messages+`
		  WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read`,
		conversationID, receiverID,
	)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	return collectMessages(op, rows)
}

// CountUnread counts unread messages addressed to receiverID in the conversation.
func (s *PostgresMessageStore) CountUnread(ctx context.Context, conversationID, receiverID string) (int64, error) {
	const op = "messaging.CountUnread"
	messages := pgIdent(s.schema, "messages")
	return s.count(ctx, op,
		`SELECT COUNT(*) FROM `+messages+`
		  WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read`,
		conversationID, receiverID,
	)
}

// MarkRead flips the given messages to read. Each UPDATE is atomic per row;
// retrying after a partial failure is safe because re-marking is a no-op.
func (s *PostgresMessageStore) MarkRead(ctx context.Context, messageIDs []string) error {
	const op = "messaging.MarkRead"
	if s == nil || s.pool == nil {
		return errors.New("messaging: nil store")
	}
	if len(messageIDs) == 0 {
		return nil
	}

	messages := pgIdent(s.schema, "messages")

	if _, err := s.pool.Exec(ctx,
		`UPDATE `+messages+` SET is_read = TRUE WHERE id = ANY($1)`,
		messageIDs,
	); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// CountForUser counts all messages sent or received by userID.
func (s *PostgresMessageStore) CountForUser(ctx context.Context, userID string) (int64, error) {
	const op = "messaging.CountForUser"
	messages := pgIdent(s.schema, "messages")
	return s.count(ctx, op,
		`SELECT COUNT(*) FROM `+messages+` WHERE sender_id = $1 OR receiver_id = $1`,
		userID,
	)
}

// CountUnreadForUser counts unread messages addressed to userID across all conversations.
func (s *PostgresMessageStore) CountUnreadForUser(ctx context.Context, userID string) (int64, error) {
	const op = "messaging.CountUnreadForUser"
	messages := pgIdent(s.schema, "messages")
	return s.count(ctx, op,
		`SELECT COUNT(*) FROM `+messages+` WHERE receiver_id = $1 AND NOT is_read`,
		userID,
	)
}

// CountUnreadConversationsForUser counts distinct conversations holding at
// least one unread message addressed to userID.
func (s *PostgresMessageStore) CountUnreadConversationsForUser(ctx context.Context, userID string) (int64, error) {
	const op = "messaging.CountUnreadConversationsForUser"
	messages := pgIdent(s.schema, "messages")
	return s.count(ctx, op,
		`SELECT COUNT(DISTINCT conversation_id) FROM `+messages+`
		  WHERE receiver_id = $1 AND NOT is_read`,
		userID,
	)
}

// CountRepliedConversationsForUser counts userID's conversations in which
// both participants have sent at least one message.
func (s *PostgresMessageStore) CountRepliedConversationsForUser(ctx context.Context, userID string) (int64, error) {
	const op = "messaging.CountRepliedConversationsForUser"
	messages := pgIdent(s.schema, "messages")
	return s.count(ctx, op,
		`SELECT COUNT(*) FROM (
		    SELECT conversation_id FROM `+messages+`
		     WHERE sender_id = $1 OR receiver_id = $1
		     GROUP BY conversation_id
		    HAVING COUNT(DISTINCT sender_id) >= 2
		 ) replied`,
		userID,
	)
}

func (s *PostgresMessageStore) count(ctx context.Context, op, query string, args ...any) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("messaging: nil store")
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

func collectMessages(op string, rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
