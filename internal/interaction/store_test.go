package interaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/receptionist-relay/internal/channel"
)

var interactionCols = []string{
	"id", "tenant_id", "channel", "direction", "status", "transport_provider",
	"remote_session_id", "provider_call_id", "from_number_e164", "to_number_e164", "contact_phone_e164",
	"summary", "started_at", "ended_at", "duration_seconds", "updated_at",
}

var messageCols = []string{"id", "interaction_id", "role", "content", "provider_message_id", "created_at"}

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func interactionRow(id uuid.UUID, key ThreadKey, session string, started time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(interactionCols).AddRow(
		id, key.TenantID, key.Channel, Inbound, StatusStarted, channel.Twilio,
		session, "", key.From, key.To, key.From,
		"", started, (*time.Time)(nil), (*int)(nil), started,
	)
}

func testKey() ThreadKey {
	return ThreadKey{TenantID: uuid.New(), Channel: channel.SMS, From: "+15551234567", To: "+15559876543"}
}

func TestFindActiveThread(t *testing.T) {
	store, mock := newMockStore(t)
	key := testKey()
	window := time.Now().Add(-24 * time.Hour)
	id := uuid.New()

	mock.ExpectQuery("FROM interactions").
		WithArgs(key.TenantID, key.Channel, key.From, key.To, window).
		WillReturnRows(interactionRow(id, key, "chat_1", time.Now()))

	got, err := store.FindActiveThread(context.Background(), key, window)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != id || got.RemoteSessionID != "chat_1" || !got.HasSession() {
		t.Fatalf("unexpected interaction %+v", got)
	}
	if got.EndedAt != nil || got.DurationSeconds != nil {
		t.Fatalf("expected null end fields, got %+v", got)
	}
}

func TestFindActiveThreadNone(t *testing.T) {
	store, mock := newMockStore(t)
	key := testKey()
	window := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("FROM interactions").
		WithArgs(key.TenantID, key.Channel, key.From, key.To, window).
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.FindActiveThread(context.Background(), key, window); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOrCreateThreadCreatesUnderLock(t *testing.T) {
	store, mock := newMockStore(t)
	key := testKey()
	window := time.Now().Add(-24 * time.Hour)
	newID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM interactions").
		WithArgs(key.TenantID, key.Channel, key.From, key.To, window).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO interactions").
		WithArgs(pgxmock.AnyArg(), key.TenantID, key.Channel, Inbound, channel.Twilio, key.From, key.To, key.From, "", "").
		WillReturnRows(interactionRow(newID, key, "", time.Now()))
	mock.ExpectCommit()

	it, created, err := store.FindOrCreateThread(context.Background(), key, Inbound, channel.Twilio, window)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if !created || it.ID != newID || it.HasSession() {
		t.Fatalf("expected new sessionless thread, got created=%v %+v", created, it)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindOrCreateThreadReusesExisting(t *testing.T) {
	store, mock := newMockStore(t)
	key := testKey()
	window := time.Now().Add(-24 * time.Hour)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(key.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM interactions").
		WithArgs(key.TenantID, key.Channel, key.From, key.To, window).
		WillReturnRows(interactionRow(id, key, "chat_1", time.Now().Add(-time.Hour)))
	mock.ExpectCommit()

	it, created, err := store.FindOrCreateThread(context.Background(), key, Inbound, channel.Twilio, window)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if created || it.ID != id {
		t.Fatalf("expected existing thread, got created=%v %+v", created, it)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindOrCreateThreadRollsBackOnLockFailure(t *testing.T) {
	store, mock := newMockStore(t)
	key := testKey()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(key.String()).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, _, err := store.FindOrCreateThread(context.Background(), key, Inbound, channel.Twilio, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendMessageInserts(t *testing.T) {
	store, mock := newMockStore(t)
	interactionID := uuid.New()
	msgID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO interaction_messages").
		WithArgs(pgxmock.AnyArg(), interactionID, RoleUser, "Hi", "SM1").
		WillReturnRows(pgxmock.NewRows(messageCols).AddRow(msgID, interactionID, RoleUser, "Hi", "SM1", now))

	msg, created, err := store.AppendMessage(context.Background(), interactionID, RoleUser, "Hi", "SM1")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !created || msg.ID != msgID || msg.ProviderMessageID != "SM1" {
		t.Fatalf("unexpected message created=%v %+v", created, msg)
	}
}

func TestAppendMessageDuplicateReturnsExisting(t *testing.T) {
	store, mock := newMockStore(t)
	interactionID := uuid.New()
	existingID := uuid.New()

	mock.ExpectQuery("INSERT INTO interaction_messages").
		WithArgs(pgxmock.AnyArg(), interactionID, RoleUser, "Hi", "SM1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM interaction_messages WHERE provider_message_id").
		WithArgs("SM1").
		WillReturnRows(pgxmock.NewRows(messageCols).AddRow(existingID, interactionID, RoleUser, "Hi", "SM1", time.Now()))

	msg, created, err := store.AppendMessage(context.Background(), interactionID, RoleUser, "Hi", "SM1")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if created || msg.ID != existingID {
		t.Fatalf("expected existing row, got created=%v %+v", created, msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendMessageWithoutProviderIDPropagatesErrors(t *testing.T) {
	store, mock := newMockStore(t)
	interactionID := uuid.New()
	mock.ExpectQuery("INSERT INTO interaction_messages").
		WithArgs(pgxmock.AnyArg(), interactionID, RoleSystem, "note", "").
		WillReturnError(pgx.ErrNoRows)

	if _, _, err := store.AppendMessage(context.Background(), interactionID, RoleSystem, "note", ""); err == nil {
		t.Fatalf("expected error when insert returns no row without provider id")
	}
}

func TestMessageExists(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("SM1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.MessageExists(context.Background(), "SM1")
	if err != nil || !ok {
		t.Fatalf("expected exists, got %v err=%v", ok, err)
	}
	ok, err = store.MessageExists(context.Background(), "")
	if err != nil || ok {
		t.Fatalf("empty id must not exist, got %v err=%v", ok, err)
	}
}

func TestSetRemoteSession(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE interactions").
		WithArgs(id, "chat_2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.SetRemoteSession(context.Background(), id, "chat_2"); err != nil {
		t.Fatalf("set session: %v", err)
	}

	mock.ExpectExec("UPDATE interactions").
		WithArgs(id, "chat_3").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.SetRemoteSession(context.Background(), id, "chat_3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountMessagesSince(t *testing.T) {
	store, mock := newMockStore(t)
	key := testKey()
	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(key.TenantID, key.Channel, key.From, key.To, RoleAgent, since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	n, err := store.CountMessagesSince(context.Background(), key, RoleAgent, since)
	if err != nil || n != 5 {
		t.Fatalf("expected 5, got %d err=%v", n, err)
	}
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(id, 2).
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow(uuid.New(), id, RoleAgent, "second", "", now).
			AddRow(uuid.New(), id, RoleUser, "first", "SM1", now.Add(-time.Minute)))

	msgs, err := store.RecentMessages(context.Background(), id, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("expected chronological order, got %+v", msgs)
	}
}

func TestListForContact(t *testing.T) {
	store, mock := newMockStore(t)
	key := testKey()
	since := time.Now().AddDate(0, -6, 0)
	current := uuid.New()
	mock.ExpectQuery("contact_phone_e164 = \\$4\\s+AND id <> \\$6").
		WithArgs(key.TenantID, []string{"SMS", "VOICE"}, since, key.From, 3, current).
		WillReturnRows(interactionRow(uuid.New(), key, "", time.Now()))

	got, err := store.ListForContact(context.Background(), ContactQuery{
		TenantID:  key.TenantID,
		Phone:     key.From,
		Channels:  []channel.Kind{channel.SMS, channel.Voice},
		Since:     since,
		Limit:     3,
		ExcludeID: current,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Channel != channel.SMS {
		t.Fatalf("unexpected interactions %+v", got)
	}
}

func TestCompleteMissingInteraction(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	ended := time.Now()
	mock.ExpectExec("SET status = 'COMPLETED'").
		WithArgs(id, ended).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.Complete(context.Background(), id, ended); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestThreadFromKeyContact(t *testing.T) {
	key := testKey()
	if got := ThreadFromKey(key, Inbound, channel.Twilio); got.ContactPhone != key.From {
		t.Fatalf("inbound contact should be sender, got %q", got.ContactPhone)
	}
	if got := ThreadFromKey(key, Outbound, channel.Twilio); got.ContactPhone != key.To {
		t.Fatalf("outbound contact should be recipient, got %q", got.ContactPhone)
	}
}
