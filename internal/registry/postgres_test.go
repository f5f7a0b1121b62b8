package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgresContainer spins up a disposable PostgreSQL instance. Tests are
// skipped when Docker is unavailable.
func startPostgresContainer(ctx context.Context, t *testing.T) (Config, func()) {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("skipping postgres tests: could not start container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("skipping postgres tests: container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("skipping postgres tests: mapped port: %v", err)
	}

	cfg := Config{
		Type:     "postgres",
		Host:     host,
		Port:     port.Int(),
		Database: "testdb",
		Username: "test",
		Password: "test",
		SSLMode:  "disable",
	}
	terminate := func() { _ = container.Terminate(ctx) }
	return cfg, terminate
}

// openPostgres retries the initial connection while the server inside the
// container finishes booting.
func openPostgres(t *testing.T, cfg Config) *PostgresStore {
	t.Helper()
	var (
		st  *PostgresStore
		err error
	)
	for i := 0; i < 30; i++ {
		st, err = NewPostgresStore(cfg)
		if err == nil {
			return st
		}
		time.Sleep(time.Second)
	}
	t.Skipf("skipping postgres tests: server not reachable: %v", err)
	return nil
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg, terminate := startPostgresContainer(ctx, t)
	defer terminate()

	st := openPostgres(t, cfg)
	defer func() { _ = st.Close() }()

	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	svc := testService("/mcp/pg")
	svc.AutoRestart = true
	svc.MaxRestarts = 3
	if err := st.CreateService(ctx, svc); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetService(ctx, svc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.AutoRestart || got.MaxRestarts != 3 || got.Env["MODE"] != "test" {
		t.Fatalf("unexpected service: %+v", got)
	}

	if err := st.CreateService(ctx, testService("/mcp/pg")); !errors.Is(err, ErrDuplicateProxyPath) {
		t.Fatalf("expected ErrDuplicateProxyPath, got %v", err)
	}

	if err := st.SetDesiredStatus(ctx, svc.ID, DesiredRunning); err != nil {
		t.Fatalf("set desired: %v", err)
	}
	if err := st.RecordRuntimeStatus(ctx, svc.ID, "running", ""); err != nil {
		t.Fatalf("record runtime: %v", err)
	}
	got, err = st.GetService(ctx, svc.ID)
	if err != nil || got.DesiredStatus != DesiredRunning || got.LastStatus != "running" {
		t.Fatalf("status not persisted: %v %+v", err, got)
	}

	key := &APIKey{ID: "k1", Name: "ops", Hash: HashKey("secret"), Active: true}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	k, err := st.GetAPIKeyByHash(ctx, HashKey("secret"))
	if err != nil || k.Name != "ops" {
		t.Fatalf("lookup key: %v %+v", err, k)
	}

	if err := st.SetSetting(ctx, &Setting{Key: "log.level", Value: "debug", Category: "log"}); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := st.SetSetting(ctx, &Setting{Key: "log.level", Value: "info", Category: "log"}); err != nil {
		t.Fatalf("upsert setting: %v", err)
	}
	s, err := st.GetSetting(ctx, "log.level")
	if err != nil || s.Value != "info" {
		t.Fatalf("get setting: %v %+v", err, s)
	}
}
