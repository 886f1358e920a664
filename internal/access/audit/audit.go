// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package audit records permission changes and command executions to
// PostgreSQL. Entries are queued and written in batches off the caller's
// goroutine; a full queue drops entries rather than blocking the game.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/command"
)

// Table selects where an entry is written.
type Table int

// Audit tables.
const (
	TablePermission Table = iota
	TableCommand
)

// Entry is one audit record.
type Entry struct {
	Table Table
	// InvocationID is set for command entries.
	InvocationID string
	UserID       uint64
	// Subject is the branch, group id or command name.
	Subject string
	// Action is grant/revoke for permissions and the dispatch status for
	// commands.
	Action string
	At     time.Time
}

// DB is the part of a pgx pool the sink uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS permission_audit (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	subject    TEXT NOT NULL,
	action     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const commandSchema = `
CREATE TABLE IF NOT EXISTS command_audit (
	invocation_id TEXT PRIMARY KEY,
	user_id       BIGINT NOT NULL,
	command       TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
)`

const (
	insertPermission = `INSERT INTO permission_audit (user_id, subject, action, created_at) VALUES ($1, $2, $3, $4)`
	insertCommand    = `INSERT INTO command_audit (invocation_id, user_id, command, status, created_at) VALUES ($1, $2, $3, $4, $5)`
)

var (
	droppedEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devkitserver_audit_dropped_total",
		Help: "Total number of audit entries dropped because the queue was full",
	})
	writeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devkitserver_audit_write_failures_total",
		Help: "Total number of failed audit batch writes",
	})
)

// RegisterMetrics registers audit metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(droppedEntries, writeFailures)
}

// Option configures a Sink.
type Option func(*Sink)

// WithBatchSize sets how many entries trigger an immediate flush.
func WithBatchSize(n int) Option {
	return func(s *Sink) { s.batchSize = n }
}

// WithFlushPeriod sets the maximum time an entry waits in the queue.
func WithFlushPeriod(d time.Duration) Option {
	return func(s *Sink) { s.flushPeriod = d }
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Sink) { s.queueSize = n }
}

// Sink batches entries into PostgreSQL.
type Sink struct {
	db          DB
	entries     chan Entry
	stop        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
	batchSize   int
	flushPeriod time.Duration
	queueSize   int
}

// NewSink starts the batch writer.
func NewSink(db DB, opts ...Option) *Sink {
	s := &Sink{
		db:          db,
		stop:        make(chan struct{}),
		batchSize:   100,
		flushPeriod: time.Second,
		queueSize:   1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entries = make(chan Entry, s.queueSize)

	s.wg.Add(1)
	go s.consume()
	return s
}

// EnsureSchema creates the audit tables if they do not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{schema, commandSchema} {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return oops.In("audit").Code("SCHEMA_FAILED").Wrap(err)
		}
	}
	return nil
}

// Record queues an entry. It returns false if the queue is full or the sink
// is closed.
func (s *Sink) Record(e Entry) bool {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.entries <- e:
		return true
	default:
		droppedEntries.Inc()
		return false
	}
}

// Subscribe records every grant and membership change raised by events.
func (s *Sink) Subscribe(events *access.Events) {
	events.OnPermissionUpdated(func(ev access.PermissionUpdate) {
		s.Record(Entry{Table: TablePermission, UserID: ev.UserID, Subject: ev.Branch.String(), Action: action(ev.Granted)})
	})
	events.OnGroupUpdated(func(ev access.GroupUpdate) {
		s.Record(Entry{Table: TablePermission, UserID: ev.UserID, Subject: "group:" + ev.Group.ID(), Action: action(ev.Granted)})
	})
}

// SubscribeCommands records every command execution on any handler. Call the
// returned function to stop.
func (s *Sink) SubscribeCommands() (remove func()) {
	return command.OnAnyCommandExecuted(func(ex command.Execution) {
		s.Record(Entry{
			Table:        TableCommand,
			InvocationID: ex.InvocationID.String(),
			UserID:       ex.Caller.ID,
			Subject:      ex.Command,
			Action:       ex.Status,
		})
	})
}

func action(granted bool) string {
	if granted {
		return "grant"
	}
	return "revoke"
}

// Close stops the writer after flushing queued entries.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

func (s *Sink) consume() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushPeriod)
	defer ticker.Stop()

	var batch []Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.writeBatch(ctx, batch); err != nil {
			slog.Error("failed to write audit batch", "error", err, "count", len(batch))
			writeFailures.Inc()
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-s.entries:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case e := <-s.entries:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Sink) writeBatch(ctx context.Context, entries []Entry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return oops.In("audit").Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			//nolint:errcheck // the batch is already being reported as failed
			_ = tx.Rollback(ctx)
		}
	}()

	for _, e := range entries {
		var err error
		switch e.Table {
		case TableCommand:
			_, err = tx.Exec(ctx, insertCommand, e.InvocationID, int64(e.UserID), e.Subject, e.Action, e.At) //nolint:gosec // steam ids fit in int64
		default:
			_, err = tx.Exec(ctx, insertPermission, int64(e.UserID), e.Subject, e.Action, e.At) //nolint:gosec // steam ids fit in int64
		}
		if err != nil {
			// A failed statement aborts the transaction, so the batch fails as a whole.
			return oops.In("audit").Code("INSERT_FAILED").With("subject", e.Subject).Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.In("audit").Wrap(err)
	}
	committed = true
	return nil
}
