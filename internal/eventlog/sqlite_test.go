package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/substation-core/internal/infrastructure/database"
	"github.com/nerrad567/substation-core/migrations"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestSQLiteSink_WriteAndQuery(t *testing.T) {
	db := setupTestDB(t)
	clock := newFakeClock()
	p := New(NewSQLiteSink(db.DB), Config{Clock: clock.Now})
	ctx := context.Background()

	p.Append(ctx, Info("ied-a", "added"))
	clock.Advance(time.Second)
	p.Append(ctx, Warning("ied-a", "lost"))
	clock.Advance(time.Second)
	p.Append(ctx, Info("", "data refreshed"))

	sink := NewSQLiteSink(db.DB)

	all, err := sink.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query() returned %d entries, want 3", len(all))
	}
	if all[2].DeviceID != "" {
		t.Errorf("DeviceID = %q, want empty for NULL column", all[2].DeviceID)
	}
	if !all[0].Timestamp.Equal(clock.Now().Add(-2 * time.Second)) {
		t.Errorf("Timestamp = %v, round trip lost precision", all[0].Timestamp)
	}

	warn, err := sink.Query(ctx, Filter{Severities: []Severity{SeverityWarning}, DeviceID: "ied-a"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(warn) != 1 || warn[0].ID != 2 {
		t.Errorf("warning query = %+v, want entry 2", warn)
	}

	rev, err := sink.Query(ctx, Filter{Reverse: true, Limit: 1})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rev) != 1 || rev[0].ID != 3 {
		t.Errorf("reverse query = %+v, want entry 3", rev)
	}
}

func TestPipeline_LoadContinuesNumbering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := New(NewSQLiteSink(db.DB), Config{})
	for i := 0; i < 4; i++ {
		first.Append(ctx, Info("ied-x", "entry"))
	}

	// Simulate a restart with a smaller memory window.
	second := New(NewSQLiteSink(db.DB), Config{Capacity: 2})
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if second.Len() != 2 {
		t.Errorf("Len() = %d, want 2", second.Len())
	}

	next := second.Append(ctx, Info("ied-x", "after restart"))
	if next.ID != 5 {
		t.Errorf("ID after Load = %d, want 5", next.ID)
	}

	// Memory was truncated, so the full history comes from the sink.
	entries, err := second.Query(ctx, Filter{DeviceID: "ied-x"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("Query() returned %d entries, want 5 from sink", len(entries))
	}
}

func TestSQLiteSink_Prune(t *testing.T) {
	db := setupTestDB(t)
	clock := newFakeClock()
	p := New(NewSQLiteSink(db.DB), Config{Clock: clock.Now})
	ctx := context.Background()

	p.Append(ctx, Info("", "old"))
	clock.Advance(10 * 24 * time.Hour)
	p.Append(ctx, Info("", "recent"))

	n, err := p.Prune(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() deleted %d, want 1", n)
	}

	rest, err := NewSQLiteSink(db.DB).Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(rest) != 1 || rest[0].Message != "recent" {
		t.Errorf("remaining = %+v, want only the recent entry", rest)
	}
}
