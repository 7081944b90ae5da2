//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/reading-diary/internal/database"
	"github.com/sandeepkv93/reading-diary/internal/domain"
)

const defaultPostgresTestImage = "docker.io/library/postgres:16-alpine"

func newPostgresDBForTest(t *testing.T) *gorm.DB {
	t.Helper()

	ctx := context.Background()
	image := os.Getenv("POSTGRES_TEST_IMAGE")
	if strings.TrimSpace(image) == "" {
		image = defaultPostgresTestImage
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: image,
			Env: map[string]string{
				"POSTGRES_USER":     "diary",
				"POSTGRES_PASSWORD": "diary",
				"POSTGRES_DB":       "diary",
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres test container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("resolve postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://diary:diary@%s/diary?sslmode=disable", net.JoinHostPort(host, port.Port()))

	db, err := gorm.Open(postgres.Open(dsn), database.GormConfig(logger.Silent))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return db
}

func TestPostgresUserRepositoryUniqueEmailUnderConcurrency(t *testing.T) {
	repo := NewUserRepository(newPostgresDBForTest(t))
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.Create(ctx, &domain.User{Name: "racer", Email: "race@x.com", PasswordHash: "h"})
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicateEmail):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected one winner, got %d", created)
	}
}

func TestPostgresStoryReplace(t *testing.T) {
	db := newPostgresDBForTest(t)
	repo := NewStoryRepository(db)
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		if err := repo.Replace(ctx, &domain.Story{UserID: 1, Genre: "novel", Content: content}); err != nil {
			t.Fatalf("replace %q: %v", content, err)
		}
	}
	got, err := repo.FindByUserID(ctx, 1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Content != "second" {
		t.Fatalf("expected latest story, got %q", got.Content)
	}
}
