package bbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ticketizer/storage"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "ticketizer-test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func record(t *testing.T, data string, version uint64) *storage.Record {
	t.Helper()
	rec, err := storage.Encode(data, version)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return rec
}

func decode(t *testing.T, rec *storage.Record) string {
	t.Helper()
	var s string
	if err := rec.Decode(&s); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return s
}

func TestBBoltStorage(t *testing.T) {
	s := NewRepository(newTestDB(t))
	namespace := "ledger"
	recordType := "order"
	recordID := "o1"
	rec := record(t, "receipt", 0)

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put(namespace, recordType, recordID, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := s.Get(namespace, recordType, recordID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if decode(t, got) != "receipt" {
			t.Errorf("unexpected record data %q", got.Data)
		}
		if !got.Updated.Equal(rec.Updated) {
			t.Errorf("expected updated %v, got %v", rec.Updated, got.Updated)
		}
	})

	t.Run("List", func(t *testing.T) {
		s.Put(namespace, recordType, "o2", rec)
		ids, err := s.List(namespace, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 IDs, got %d", len(ids))
		}
	})

	t.Run("PutCAS create-only", func(t *testing.T) {
		if err := s.PutCAS(namespace, recordType, "cas1", 0, rec); err != nil {
			t.Fatalf("PutCAS (new) failed: %v", err)
		}
		if err := s.PutCAS(namespace, recordType, "cas1", 0, rec); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("PutCAS version match", func(t *testing.T) {
		if err := s.Put(namespace, recordType, "cas2", record(t, "v1", 1)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.PutCAS(namespace, recordType, "cas2", 1, record(t, "v2", 2)); err != nil {
			t.Fatalf("PutCAS (version match) failed: %v", err)
		}
		got, _ := s.Get(namespace, recordType, "cas2")
		if got.Version != 2 || decode(t, got) != "v2" {
			t.Errorf("expected version 2, got %d", got.Version)
		}
	})

	t.Run("PutCAS version mismatch", func(t *testing.T) {
		s.Put(namespace, recordType, "cas3", record(t, "v5", 5))
		if err := s.PutCAS(namespace, recordType, "cas3", 3, record(t, "v6", 6)); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("PutCAS non-zero on missing record", func(t *testing.T) {
		if err := s.PutCAS(namespace, recordType, "cas-missing", 1, record(t, "v1", 1)); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed for non-zero version on missing record, got %v", err)
		}
	})

	t.Run("Get Errors", func(t *testing.T) {
		_, err := s.Get("nonexistent", recordType, recordID)
		if !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}
		_, err = s.Get(namespace, recordType, "nonexistent-record")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(namespace, recordType, "o2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(namespace, recordType, "o2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.Delete("nonexistent", recordType, "o2"); !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}
	})

	t.Run("List Nonexistent Namespace", func(t *testing.T) {
		ids, err := s.List("nonexistent", recordType)
		if err != nil {
			t.Errorf("expected no error for nonexistent namespace in List, got %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected 0 ids, got %d", len(ids))
		}
	})

	t.Run("List skips other record types", func(t *testing.T) {
		if err := s.Put(namespace, "o", "", rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Put(namespace, "orders", "x", rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ids, err := s.List(namespace, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		for _, id := range ids {
			if id == "" || id == "x" {
				t.Fatalf("unexpected id %q from another record type", id)
			}
		}
	})
}

func TestNewRepositoryFromFile(t *testing.T) {
	repo, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "file.db"), nil)
	if err != nil {
		t.Fatalf("NewRepositoryFromFile failed: %v", err)
	}
	defer repo.Close()

	if repo.db == nil {
		t.Error("repo.db is nil")
	}

	_, err = NewRepositoryFromFile("/nonexistent/path/to/db", nil)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestBBoltBatch(t *testing.T) {
	s := NewRepository(newTestDB(t))
	namespace := "ledger"

	t.Run("atomic batch write", func(t *testing.T) {
		err := s.Batch(namespace, func(tx storage.BatchTx) error {
			if err := tx.Put("order", "b1", record(t, "a", 0)); err != nil {
				return err
			}
			if err := tx.PutCAS("order", "b2", 0, record(t, "b", 1)); err != nil {
				return err
			}
			return tx.PutCAS("order", "b2", 1, record(t, "b", 2))
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}

		got1, err := s.Get(namespace, "order", "b1")
		if err != nil {
			t.Fatalf("Get b1 failed: %v", err)
		}
		if decode(t, got1) != "a" {
			t.Errorf("expected 'a', got %q", got1.Data)
		}

		got2, err := s.Get(namespace, "order", "b2")
		if err != nil {
			t.Fatalf("Get b2 failed: %v", err)
		}
		if got2.Version != 2 {
			t.Errorf("expected version 2, got %d", got2.Version)
		}
	})

	t.Run("batch rollback on error", func(t *testing.T) {
		err := s.Batch(namespace, func(tx storage.BatchTx) error {
			tx.Put("order", "rollback-test", record(t, "should-not-exist", 0))
			tx.Delete("order", "b1")
			return storage.ErrCASFailed
		})
		if err != storage.ErrCASFailed {
			t.Fatalf("expected ErrCASFailed, got %v", err)
		}

		if _, err := s.Get(namespace, "order", "rollback-test"); err == nil {
			t.Error("expected record to not exist after rollback")
		}
		if _, err := s.Get(namespace, "order", "b1"); err != nil {
			t.Errorf("expected b1 to survive rollback, got %v", err)
		}
	})
}
