// Package testutils provides fakes for unit tests and throwaway Postgres and
// Redis Stack containers for integration tests.
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/MagnunAVF/smllr/internal/store"
)

// RedisStackImage ships the RediSearch module the cache index needs.
const RedisStackImage = "redis/redis-stack-server:7.2.0-v13"

func skipShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: skipped with -short")
	}
}

// StartPostgres runs a migrated Postgres and returns a GORM handle to it.
func StartPostgres(t testing.TB) *gorm.DB {
	t.Helper()
	skipShort(t)

	ctx := context.Background()
	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("smllr"),
		tcpostgres.WithUsername("smllr"),
		tcpostgres.WithPassword("smllr"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := store.Open(dsn, "silent")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// StartRedisStack runs Redis with RediSearch and returns a RESP2 client.
func StartRedisStack(t testing.TB) *redis.Client {
	t.Helper()
	skipShort(t)

	ctx := context.Background()
	rc, err := tcredis.Run(ctx, RedisStackImage)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

	endpoint, err := rc.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     endpoint,
		Protocol: 2,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return rdb
}
