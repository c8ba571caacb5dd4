// Package sqlite provides a durable, file-backed queue transport for tracedqueue.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
	"github.com/drblury/tracedqueue/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

const (
	// DefaultFilePath is used when no database file is configured.
	DefaultFilePath = "tracedqueue_queue.db"
	// DefaultPollInterval is the default interval for polling new messages.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultLockTimeout is how long a delivered message stays invisible to
	// other consumers before it is handed out again.
	DefaultLockTimeout = 30 * time.Second
)

func init() {
	transport.RegisterPubSub(TransportName, Build, transport.SQLiteCapabilities)
}

// Build opens the queue database named by cfg. The same Queue serves as
// publisher and subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.PubSub, error) {
	q, err := New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.PubSub{}, err
	}
	return transport.PubSub{Publisher: q, Subscriber: q}, nil
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the SQLite database file.
	FilePath string
	// PollInterval is the interval for polling new messages.
	PollInterval time.Duration
	// LockTimeout bounds how long an unsettled message stays locked.
	LockTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = DefaultFilePath
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	return c
}

// Queue stores messages in a SQLite table. Acknowledged messages are deleted;
// nacked or abandoned ones become visible again.
type Queue struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
	wg         sync.WaitGroup
}

// New opens (and migrates) a queue database.
func New(cfg Config, logger watermill.LoggerAdapter) (*Queue, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	q := &Queue{
		db:         db,
		config:     cfg,
		logger:     logger,
		closedChan: make(chan struct{}),
	}

	if err := q.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return q, nil
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		queue TEXT NOT NULL,
		payload BLOB NOT NULL,
		properties TEXT,
		enqueued_at INTEGER NOT NULL,
		available_at INTEGER NOT NULL,
		locked_until INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_queue_messages_queue ON queue_messages(queue, available_at);
	`
	_, err := q.db.Exec(schema)
	return err
}

func (q *Queue) isClosed() bool {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	return q.closed
}

// Publish stores messages on the named queue in a single transaction.
func (q *Queue) Publish(queue string, messages ...*message.Message) error {
	if q.isClosed() {
		return errspkg.ErrTransportClosed
	}

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer q.rollback(tx)

	stmt, err := tx.Prepare(`
		INSERT INTO queue_messages (uuid, queue, payload, properties, enqueued_at, available_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixNano()
	for _, msg := range messages {
		props, err := sonic.ConfigStd.MarshalToString(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal properties: %w", err)
		}
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.Exec(msg.UUID, queue, payload, props, now, now); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Subscribe polls the named queue until ctx is done or the queue is closed.
func (q *Queue) Subscribe(ctx context.Context, queue string) (<-chan *message.Message, error) {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	if q.closed {
		return nil, errspkg.ErrTransportClosed
	}

	out := make(chan *message.Message)
	q.wg.Add(1)
	go q.poll(ctx, queue, out)
	return out, nil
}

func (q *Queue) poll(ctx context.Context, queue string, out chan *message.Message) {
	defer q.wg.Done()
	defer close(out)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedChan:
			return
		case <-ticker.C:
			for q.deliverNext(ctx, queue, out) {
			}
		}
	}
}

type fetchedMessage struct {
	id         int64
	uuid       string
	payload    []byte
	properties sql.NullString
}

// fetchAndLock claims the oldest visible message on queue.
func (q *Queue) fetchAndLock(ctx context.Context, queue string) (*fetchedMessage, bool) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		q.logError(ctx, "failed to begin transaction", err)
		return nil, false
	}
	defer q.rollback(tx)

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		SELECT id, uuid, payload, properties
		FROM queue_messages
		WHERE queue = ?
		AND available_at <= ?
		AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY available_at ASC, id ASC
		LIMIT 1
	`, queue, now.UnixNano(), now.UnixNano())

	var fm fetchedMessage
	if err := row.Scan(&fm.id, &fm.uuid, &fm.payload, &fm.properties); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			q.logError(ctx, "failed to scan message", err)
		}
		return nil, false
	}

	lockUntil := now.Add(q.config.LockTimeout).UnixNano()
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_messages SET locked_until = ?, attempts = attempts + 1 WHERE id = ?`,
		lockUntil, fm.id,
	); err != nil {
		q.logError(ctx, "failed to lock message", err)
		return nil, false
	}

	if err := tx.Commit(); err != nil {
		q.logError(ctx, "failed to commit lock", err)
		return nil, false
	}
	return &fm, true
}

// deliverNext hands one message to out and waits for its settlement. It
// reports whether polling should continue immediately.
func (q *Queue) deliverNext(ctx context.Context, queue string, out chan *message.Message) bool {
	fm, found := q.fetchAndLock(ctx, queue)
	if !found {
		return false
	}

	metadata := make(message.Metadata)
	if fm.properties.Valid && fm.properties.String != "" {
		if err := sonic.ConfigStd.UnmarshalFromString(fm.properties.String, &metadata); err != nil {
			q.logError(ctx, "failed to unmarshal properties", err)
		}
	}

	msg := message.NewMessage(fm.uuid, fm.payload)
	msg.Metadata = metadata
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		q.unlock(fm.id)
		return false
	case <-q.closedChan:
		q.unlock(fm.id)
		return false
	}

	select {
	case <-msg.Acked():
		q.delete(fm.id)
		return true
	case <-msg.Nacked():
		q.retryLater(fm.id)
		return true
	case <-ctx.Done():
		q.unlock(fm.id)
	case <-q.closedChan:
		q.unlock(fm.id)
	}
	return false
}

func (q *Queue) delete(id int64) {
	if _, err := q.db.Exec(`DELETE FROM queue_messages WHERE id = ?`, id); err != nil {
		q.logError(context.Background(), "failed to ack message", err)
	}
}

// retryLater makes a nacked message visible again after a linear backoff.
func (q *Queue) retryLater(id int64) {
	var attempts int
	if err := q.db.QueryRow(`SELECT attempts FROM queue_messages WHERE id = ?`, id).Scan(&attempts); err != nil {
		q.logError(context.Background(), "failed to read attempts", err)
		return
	}
	availableAt := time.Now().UTC().Add(time.Duration(attempts) * time.Second).UnixNano()
	if _, err := q.db.Exec(
		`UPDATE queue_messages SET locked_until = NULL, available_at = ? WHERE id = ?`,
		availableAt, id,
	); err != nil {
		q.logError(context.Background(), "failed to nack message", err)
	}
}

func (q *Queue) unlock(id int64) {
	if _, err := q.db.Exec(`UPDATE queue_messages SET locked_until = NULL WHERE id = ?`, id); err != nil {
		q.logError(context.Background(), "failed to unlock message", err)
	}
}

func (q *Queue) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		q.logError(context.Background(), "failed to rollback transaction", err)
	}
}

func (q *Queue) logError(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	q.logger.Error(msg, err, watermill.LogFields{"transport": TransportName})
}

// PendingCount returns how many messages on queue have not been acknowledged,
// including those currently locked by a consumer.
func (q *Queue) PendingCount(ctx context.Context, queue string) (int64, error) {
	if q.isClosed() {
		return 0, errspkg.ErrTransportClosed
	}
	var count int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_messages WHERE queue = ?`, queue,
	).Scan(&count)
	return count, err
}

// Close stops every subscription and closes the database. It is safe to call
// more than once.
func (q *Queue) Close() error {
	q.closedMu.Lock()
	if q.closed {
		q.closedMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closedChan)
	q.closedMu.Unlock()

	q.wg.Wait()
	return q.db.Close()
}
