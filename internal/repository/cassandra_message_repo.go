package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/samber/lo/mutable"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/idgen"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// CassandraConfig holds the Cassandra connection settings.
type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Consistency    string        `mapstructure:"consistency"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	NumConns       int           `mapstructure:"num_conns"`
}

const cassandraSchema = `
	CREATE TABLE IF NOT EXISTS messages_by_room (
		room text,
		created_at timestamp,
		message_id text,
		sender_id text,
		sender_handle text,
		content text,
		PRIMARY KEY ((room), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`

// CassandraMessageRepository stores messages partitioned by room.
type CassandraMessageRepository struct {
	session *gocql.Session
	ids     idgen.Generator
	clock   func() time.Time
}

func NewCassandraMessageRepository(cfg CassandraConfig, ids idgen.Generator) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}
	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageRepository{session: session, ids: ids, clock: time.Now}, nil
}

// Migrate creates the messages_by_room table in the configured keyspace.
func (r *CassandraMessageRepository) Migrate(ctx context.Context) error {
	if err := r.session.Query(cassandraSchema).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create messages_by_room: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) Append(ctx context.Context, room, senderID, senderHandle, content string) (*domain.Message, error) {
	id, err := r.ids.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	msg := &domain.Message{
		ID:           id,
		Room:         room,
		SenderID:     senderID,
		SenderHandle: senderHandle,
		Content:      content,
		CreatedAt:    r.clock().UTC().Truncate(time.Millisecond),
	}

	query := `
		INSERT INTO messages_by_room (
			room, created_at, message_id, sender_id, sender_handle, content
		) VALUES (?, ?, ?, ?, ?, ?)`
	err = r.session.Query(query,
		msg.Room, msg.CreatedAt, msg.ID, msg.SenderID, msg.SenderHandle, msg.Content,
	).WithContext(ctx).Exec()
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to insert message")
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	return msg, nil
}

func (r *CassandraMessageRepository) Recent(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, room, sender_id, sender_handle, content, created_at
			  FROM messages_by_room
			  WHERE room = ?
			  LIMIT ?`
	iter := r.session.Query(query, room, limit).WithContext(ctx).Iter()

	var (
		messages []domain.Message
		msg      domain.Message
	)
	for iter.Scan(&msg.ID, &msg.Room, &msg.SenderID, &msg.SenderHandle, &msg.Content, &msg.CreatedAt) {
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
		msg = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// Newest-first query results, returned in chronological order.
	mutable.Reverse(messages)
	return messages, nil
}

func (r *CassandraMessageRepository) Ping(ctx context.Context) error {
	return r.session.Query("SELECT release_version FROM system.local").WithContext(ctx).Exec()
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
	case "TWO":
		return gocql.Two
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
