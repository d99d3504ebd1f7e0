package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/chatroom/internal/config"
	"github.com/xiaot623/gogo/chatroom/internal/hub"
	"github.com/xiaot623/gogo/chatroom/internal/repository"
	"github.com/xiaot623/gogo/chatroom/internal/service"
	"github.com/xiaot623/gogo/chatroom/policy"
)

// TestAdminPassword is the admin password seeded by NewTestService.
const TestAdminPassword = "admin-secret"

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func NewTestFileStore(t *testing.T) *repository.FileStore {
	t.Helper()

	s, err := repository.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	return s
}

// NewTestConfig returns a config with cheap password hashing and small buffers.
func NewTestConfig() *config.Config {
	return &config.Config{
		StorageBackend:   config.StorageFile,
		AdminPassword:    TestAdminPassword,
		PasswordHashCost: 4,
		PingInterval:     time.Second,
		WriteTimeout:     time.Second,
		ReadTimeout:      5 * time.Second,
		MaxMessageSize:   65536,
		SendBuffer:       64,
		LogLevel:         "error",
	}
}

// NewTestService builds a Service over store with the default join policy.
func NewTestService(t *testing.T, store repository.Store) *service.Service {
	t.Helper()

	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	svc, err := service.New(ctx, store, hub.NewHub(), engine, NewTestConfig())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}
