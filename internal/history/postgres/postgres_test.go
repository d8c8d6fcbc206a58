package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/harness/internal/history"
)

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("harness"),
		tcpostgres.WithUsername("harness"),
		tcpostgres.WithPassword("harness"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	// A second sink on the same database must not trip over the existing table.
	again, err := New(connStr)
	if err != nil {
		t.Fatalf("schema creation is not idempotent: %v", err)
	}
	_ = again.Close()

	if err := sink.Send(ctx, history.NewEvent(history.EventLaunch, "api", 4242, nil)); err != nil {
		t.Fatalf("send launch: %v", err)
	}
	if err := sink.Send(ctx, history.NewEvent(history.EventTerminate, "api", 4242, errors.New("no such process"))); err != nil {
		t.Fatalf("send terminate: %v", err)
	}
	if err := sink.Send(ctx, history.NewEvent(history.EventLaunch, "db", 7, nil)); err != nil {
		t.Fatalf("send other: %v", err)
	}

	evs, err := sink.Events(ctx, "api")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(evs), evs)
	}
	if evs[0].Type != history.EventLaunch || evs[0].PID != 4242 || evs[0].Error != "" {
		t.Fatalf("unexpected launch event: %+v", evs[0])
	}
	if evs[1].Type != history.EventTerminate || evs[1].Error != "no such process" {
		t.Fatalf("unexpected terminate event: %+v", evs[1])
	}
	all, err := sink.Events(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 events overall, got %d err=%v", len(all), err)
	}
}
