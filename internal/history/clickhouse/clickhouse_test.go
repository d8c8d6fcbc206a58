package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/harness/internal/history"
)

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
	for _, table := range []string{"events; DROP TABLE x", "1abc", "a.b.c", "has space"} {
		if _, err := New(Config{Addr: "127.0.0.1:1", Table: table}); err == nil {
			t.Fatalf("expected table name %q to be rejected", table)
		}
	}
}

// setupClickHouse starts a ClickHouse container and returns its native address.
func setupClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	addr := setupClickHouse(ctx, t)

	sink, err := New(Config{Addr: addr, Table: "harness_events"})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	launch := history.NewEvent(history.EventLaunch, "api", 4242, nil)
	term := history.NewEvent(history.EventTerminate, "api", 4242, errors.New("no such process"))
	term.OccurredAt = launch.OccurredAt.Add(time.Second)
	for _, e := range []history.Event{launch, term, history.NewEvent(history.EventLaunch, "db", 7, nil)} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
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
}
