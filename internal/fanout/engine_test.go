package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/push"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

func newFanoutDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("fanout_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Connection{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakePusher records pushes and fails selected connection ids.
type fakePusher struct {
	pushed map[string][][]byte
	gone   map[string]bool
	broken map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		pushed: make(map[string][][]byte),
		gone:   make(map[string]bool),
		broken: make(map[string]bool),
	}
}

func (f *fakePusher) Push(_ context.Context, connectionID string, payload []byte) error {
	if f.gone[connectionID] {
		return fmt.Errorf("post: %w", push.ErrGone)
	}
	if f.broken[connectionID] {
		return errors.New("transport hiccup")
	}
	f.pushed[connectionID] = append(f.pushed[connectionID], payload)
	return nil
}

func testMessage() *domain.Message {
	return &domain.Message{
		ID:             "m1",
		ConversationID: "alice#bob",
		SenderID:       "alice",
		RecipientID:    "bob",
		Text:           "hi",
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestDeliver_PushesToAllConnections(t *testing.T) {
	db := newFanoutDB(t)
	ctx := context.Background()
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"c1", "c2"} {
		if _, err := repo.PutConnection(ctx, db, id, "bob", now, 24*time.Hour); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	p := newFakePusher()
	e := &Engine{DB: db, Pusher: p, Log: zerolog.Nop(), Now: func() time.Time { return now }}

	res, err := e.Deliver(ctx, testMessage(), "bob")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Candidates != 2 || res.Delivered != 2 || res.Pruned != 0 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	var got Payload
	if err := json.Unmarshal(p.pushed["c1"][0], &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Type != "message" || got.MessageID != "m1" || got.ConversationID != "alice#bob" ||
		got.SenderID != "alice" || got.Text != "hi" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Timestamp != testMessage().CreatedAt.UnixMilli() {
		t.Fatalf("timestamp = %d", got.Timestamp)
	}
}

func TestDeliver_OfflineRecipientIsSuccess(t *testing.T) {
	db := newFanoutDB(t)
	e := &Engine{DB: db, Pusher: newFakePusher(), Log: zerolog.Nop()}

	res, err := e.Deliver(context.Background(), testMessage(), "bob")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Candidates != 0 || res.Delivered != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDeliver_GonePrunesRegistryAndContinues(t *testing.T) {
	db := newFanoutDB(t)
	ctx := context.Background()
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"c1", "c2", "c3"} {
		if _, err := repo.PutConnection(ctx, db, id, "bob", now, 24*time.Hour); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	p := newFakePusher()
	p.gone["c2"] = true
	e := &Engine{DB: db, Pusher: p, Log: zerolog.Nop(), Now: func() time.Time { return now }}

	res, err := e.Deliver(ctx, testMessage(), "bob")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Delivered != 2 || res.Pruned != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// self-healed: c2 is no longer a candidate
	conns, err := repo.ListConnectionsByUser(ctx, db, "bob", now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("stale connection not pruned: %+v", conns)
	}
	for _, c := range conns {
		if c.ID == "c2" {
			t.Fatalf("c2 still registered")
		}
	}
}

func TestDeliver_GenericFailureIsContained(t *testing.T) {
	db := newFanoutDB(t)
	ctx := context.Background()
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"c1", "c2"} {
		if _, err := repo.PutConnection(ctx, db, id, "bob", now, 24*time.Hour); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	p := newFakePusher()
	p.broken["c1"] = true
	e := &Engine{DB: db, Pusher: p, Log: zerolog.Nop(), Now: func() time.Time { return now }}

	res, err := e.Deliver(ctx, testMessage(), "bob")
	if err != nil {
		t.Fatalf("Deliver must not surface push failures: %v", err)
	}
	if res.Failed != 1 || res.Delivered != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// generic failures do not prune the registry
	conns, _ := repo.ListConnectionsByUser(ctx, db, "bob", now)
	if len(conns) != 2 {
		t.Fatalf("generic failure pruned a connection: %+v", conns)
	}
}
