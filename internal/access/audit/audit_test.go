// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package audit_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/access/accesstest"
	"github.com/devkitserver/devkitserver/internal/access/audit"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSink_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS permission_audit`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS command_audit`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	sink := audit.NewSink(mock)
	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.NoError(t, sink.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_EnsureSchemaFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS permission_audit`).
		WillReturnError(errors.New("permission denied for schema public"))

	sink := audit.NewSink(mock)
	defer func() { _ = sink.Close() }()
	errutil.AssertErrorCode(t, sink.EnsureSchema(context.Background()), "SCHEMA_FAILED")
}

func TestSink_FlushesOnClose(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO permission_audit`).
		WithArgs(int64(42), "commands.ban", "grant", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO command_audit`).
		WithArgs("01JTEST", int64(42), "ban", "success", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	// A long flush period keeps everything queued until Close.
	sink := audit.NewSink(mock, audit.WithFlushPeriod(time.Hour))
	assert.True(t, sink.Record(audit.Entry{
		Table: audit.TablePermission, UserID: 42, Subject: "commands.ban", Action: "grant", At: at,
	}))
	assert.True(t, sink.Record(audit.Entry{
		Table: audit.TableCommand, InvocationID: "01JTEST", UserID: 42, Subject: "ban", Action: "success", At: at,
	}))
	require.NoError(t, sink.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.False(t, sink.Record(audit.Entry{}), "closed sink rejects entries")
}

func TestSink_FlushesWhenBatchIsFull(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO permission_audit`).
		WithArgs(int64(1), "a.b", "grant", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO permission_audit`).
		WithArgs(int64(1), "a.b", "revoke", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	sink := audit.NewSink(mock, audit.WithBatchSize(2), audit.WithFlushPeriod(time.Hour))
	defer func() { _ = sink.Close() }()
	sink.Record(audit.Entry{UserID: 1, Subject: "a.b", Action: "grant"})
	sink.Record(audit.Entry{UserID: 1, Subject: "a.b", Action: "revoke"})

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}

func TestSink_FailedInsertRollsBackBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO permission_audit`).
		WithArgs(int64(1), "a.b", "grant", pgxmock.AnyArg()).
		WillReturnError(errors.New("value too long for type"))
	mock.ExpectRollback()

	sink := audit.NewSink(mock, audit.WithFlushPeriod(time.Hour))
	sink.Record(audit.Entry{UserID: 1, Subject: "a.b", Action: "grant"})
	sink.Record(audit.Entry{UserID: 1, Subject: "a.b", Action: "revoke"})
	require.NoError(t, sink.Close())

	assert.NoError(t, mock.ExpectationsWereMet(), "no insert runs after a failure and nothing is committed")
}

func TestSink_SubscribeRecordsEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO permission_audit`).
		WithArgs(int64(7), "core::commands.kick", "grant", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO permission_audit`).
		WithArgs(int64(7), "core::commands.kick", "revoke", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO permission_audit`).
		WithArgs(int64(7), "group:mods", "grant", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	m := access.NewMirror(7)
	sink := audit.NewSink(mock, audit.WithFlushPeriod(time.Hour))
	sink.Subscribe(&m.Events)

	ctx := context.Background()
	kick := permission.MustParseBranch("core::commands.kick")
	require.NoError(t, m.ReceivePermissionState(ctx, kick, true))
	require.NoError(t, m.ReceiveClearPermissions(ctx))
	require.NoError(t, m.ReceiveGroupRegistered(ctx, permission.NewGroup("mods", "Mods", permission.Color{}, 1)))
	require.NoError(t, m.ReceivePermissionGroupState(ctx, "mods", true))

	require.NoError(t, sink.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

type pingCommand struct{}

func (pingCommand) Describe() command.Info { return command.Info{Name: "ping"} }

func (pingCommand) Execute(context.Context, *command.Context) error { return nil }

func TestSink_SubscribeCommandsRecordsExecutions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO command_audit`).
		WithArgs(pgxmock.AnyArg(), int64(0), "ping", command.StatusSuccess, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	reg := command.NewRegistry()
	require.True(t, reg.Register(pingCommand{}))
	h, err := command.NewHandler(reg, accesstest.AllowAll{}, command.WithOutput(&command.Router{Console: io.Discard}))
	require.NoError(t, err)
	defer h.Close()

	sink := audit.NewSink(mock, audit.WithFlushPeriod(time.Hour))
	remove := sink.SubscribeCommands()
	require.True(t, h.OnCommandInput(context.Background(), "ping"))
	remove()
	require.True(t, h.OnCommandInput(context.Background(), "ping"))

	require.NoError(t, sink.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
