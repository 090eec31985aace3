package storage

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryDSN)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_ReopenKeepsSchemaAndData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("favorites:owner-1", `["p1"]`); err != nil {
		t.Fatal(err)
	}
	before, _ := s.AppliedMigrations()
	s.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		t.Fatalf("database file: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	after, _ := s.AppliedMigrations()
	if len(before) == 0 || len(after) != len(before) {
		t.Errorf("applied migrations %v then %v", before, after)
	}
	if v, ok, err := s.Get("favorites:owner-1"); err != nil || !ok || v != `["p1"]` {
		t.Errorf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestSchemaVersion(t *testing.T) {
	s := openTestStore(t)

	pending, err := pendingMigrations(nil)
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if want := pending[len(pending)-1].version; v != want {
		t.Errorf("SchemaVersion = %d, want %d", v, want)
	}
}

func TestPendingMigrations_SkipsApplied(t *testing.T) {
	all, err := pendingMigrations(nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].version <= all[i-1].version {
			t.Fatalf("not sorted: %+v", all)
		}
	}

	rest, err := pendingMigrations([]int{all[0].version})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != len(all)-1 {
		t.Errorf("pending after first = %d, want %d", len(rest), len(all)-1)
	}
}

func TestSchemaHasQueueAndCacheIndexes(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_kv_updated", "idx_job_log_created", "idx_projects_owner", "idx_jobs_status_run_after"} {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, idx).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("index %s missing", idx)
		}
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	boom := errors.New("boom")

	err := s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv (key, value, updated_at) VALUES ('k', 'v', ?)`, s.timestamp()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("inTx error = %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("write survived a failed transaction")
	}
}
