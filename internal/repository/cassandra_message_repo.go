package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/internal/domain"
)

var cassandraSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_id (
		message_id text PRIMARY KEY,
		conversation_id text,
		sender_id text,
		receiver_id text,
		text text,
		image text,
		is_recalled boolean,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS messages_by_conversation (
		conversation_id text,
		message_id text,
		sender_id text,
		receiver_id text,
		text text,
		image text,
		is_recalled boolean,
		created_at timestamp,
		PRIMARY KEY ((conversation_id), message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`,
}

// CassandraMessageRepository stores each message twice: by id for lookups
// and by conversation for history reads.
type CassandraMessageRepository struct {
	session *gocql.Session
}

func NewCassandraMessageRepository(cfg config.CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageRepository{session: session}, nil
}

// EnsureSchema creates the message tables when they are missing.
func (r *CassandraMessageRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range cassandraSchema {
		if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func conversationID(a, b string) string {
	return domain.NewPairKey(a, b).String()
}

func (r *CassandraMessageRepository) Save(ctx context.Context, msg *domain.Message) (string, error) {
	msg.ID = NewID()
	convID := conversationID(msg.SenderID, msg.ReceiverID)

	b := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages_by_id (
			message_id, conversation_id, sender_id, receiver_id, text, image, is_recalled, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, convID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, msg.IsRecalled, msg.CreatedAt)
	b.Query(`INSERT INTO messages_by_conversation (
			conversation_id, message_id, sender_id, receiver_id, text, image, is_recalled, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		convID, msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, msg.IsRecalled, msg.CreatedAt)

	if err := r.session.ExecuteBatch(b); err != nil {
		return "", fmt.Errorf("failed to save message: %w", err)
	}
	return msg.ID, nil
}

func (r *CassandraMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var (
		m         domain.Message
		createdAt time.Time
	)
	err := r.session.Query(`SELECT message_id, sender_id, receiver_id, text, image, is_recalled, created_at
			FROM messages_by_id WHERE message_id = ?`, id).
		WithContext(ctx).
		Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.IsRecalled, &createdAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	m.CreatedAt = createdAt.UTC()
	return &m, nil
}

func (r *CassandraMessageRepository) MarkRecalled(ctx context.Context, id string) (*domain.Message, bool, error) {
	m, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	// the conditional update on messages_by_id decides which recall wins
	applied, err := r.session.Query(`UPDATE messages_by_id SET text = null, image = null, is_recalled = true
			WHERE message_id = ? IF is_recalled = false`, id).
		WithContext(ctx).
		MapScanCAS(make(map[string]interface{}))
	if err != nil {
		return nil, false, fmt.Errorf("failed to recall message: %w", err)
	}
	if !applied {
		m.Recall()
		return m, false, nil
	}

	err = r.session.Query(`UPDATE messages_by_conversation SET text = null, image = null, is_recalled = true
			WHERE conversation_id = ? AND message_id = ?`, conversationID(m.SenderID, m.ReceiverID), id).
		WithContext(ctx).Exec()
	if err != nil {
		return nil, false, fmt.Errorf("failed to recall message in conversation: %w", err)
	}

	m.Recall()
	return m, true, nil
}

func (r *CassandraMessageRepository) FindConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	query := `SELECT message_id, sender_id, receiver_id, text, image, is_recalled, created_at
			FROM messages_by_conversation WHERE conversation_id = ?`
	args := []interface{}{conversationID(userA, userB)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	iter := r.session.Query(query, args...).WithContext(ctx).Iter()

	var (
		msgs      []*domain.Message
		m         domain.Message
		createdAt time.Time
	)
	for iter.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.IsRecalled, &createdAt) {
		m.CreatedAt = createdAt.UTC()
		msg := m
		msgs = append(msgs, &msg)
		m = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	reverse(msgs)
	return msgs, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}
