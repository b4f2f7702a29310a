package handlers

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/fanout"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/push"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// hubStub records pushes and can report connections as gone.
type hubStub struct {
	pushed map[string][][]byte
	gone   map[string]bool
}

func newHubStub() *hubStub {
	return &hubStub{pushed: make(map[string][][]byte), gone: make(map[string]bool)}
}

func (h *hubStub) Push(_ context.Context, connectionID string, payload []byte) error {
	if h.gone[connectionID] {
		return fmt.Errorf("post: %w", push.ErrGone)
	}
	h.pushed[connectionID] = append(h.pushed[connectionID], payload)
	return nil
}

type testEnv struct {
	router   *gin.Engine
	sessions *services.SessionService
	hub      *hubStub
	db       *gorm.DB
}

// newTestEnv wires real services over a temp sqlite database behind a router
// with the same route shape as production, minus global middleware.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.Connection{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	hub := newHubStub()
	sessions := &services.SessionService{DB: db}
	engine := &fanout.Engine{DB: db, Pusher: hub, Log: zerolog.Nop()}
	msgSvc := &services.MessageService{DB: db, Sessions: sessions, Fanout: engine, Log: zerolog.Nop()}

	h := New(sessions, msgSvc, nil, 2048)

	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	api := r.Group("/api/v1")
	api.POST("/connections", h.Connect)
	api.DELETE("/connections/:id", h.Disconnect)
	api.POST("/messages", h.PostMessage)
	api.GET("/conversations/:id/messages", h.ListMessages)

	return &testEnv{router: r, sessions: sessions, hub: hub, db: db}
}

func (e *testEnv) do(t *testing.T, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) connect(t *testing.T, connID, userID string) {
	t.Helper()
	if _, err := e.sessions.Connect(context.Background(), connID, userID); err != nil {
		t.Fatalf("connect %s/%s: %v", connID, userID, err)
	}
}

// countMessages is a direct check against the store, bypassing handlers.
func (e *testEnv) countMessages(t *testing.T, conversationID string) int64 {
	t.Helper()
	n, err := repo.CountMessages(e.db, conversationID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
