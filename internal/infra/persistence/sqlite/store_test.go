package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"objectcore/pkg/domain"
)

func mustPath(t *testing.T, raw string) domain.TypePath {
	t.Helper()
	p, err := domain.ParseTypePath(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return p
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "objectcore.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx := context.Background()
	var tmplID, instID, instEUID string
	_, err = store.RunInTransaction(ctx, "tester", func(tx domain.Transaction) error {
		tmpl, err := tx.CreateTemplate(domain.Template{
			Path:    mustPath(t, "item/sample/blood/1.0"),
			Subtype: domain.SubtypeGeneric,
			Prefix:  "SMP",
		})
		if err != nil {
			return err
		}
		tmplID = tmpl.ID
		inst, err := tx.CreateInstance(domain.Instance{TemplateID: tmpl.ID, Name: "sample-a"})
		if err != nil {
			return err
		}
		instID = inst.ID
		instEUID = inst.EUID
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	err = reopened.View(ctx, func(v domain.TransactionView) error {
		inst, ok := v.FindInstance(instID)
		if !ok {
			t.Fatal("instance missing after reopen")
		}
		if inst.EUID != instEUID || inst.Name != "sample-a" {
			t.Fatalf("restored = %+v", inst)
		}
		if trail := v.AuditTrail(domain.EntityInstance, instID); len(trail) != 1 {
			t.Fatalf("audit trail = %d records, want 1", len(trail))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// Identifier sequences persist too: new identifiers continue the counter.
	_, err = reopened.RunInTransaction(ctx, "tester", func(tx domain.Transaction) error {
		inst, err := tx.CreateInstance(domain.Instance{TemplateID: tmplID, Name: "sample-b"})
		if err != nil {
			return err
		}
		if inst.EUID != "SMP3" {
			t.Fatalf("euid after reopen = %q, want SMP3", inst.EUID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction after reopen: %v", err)
	}
}

func TestSnapshotWritesAllBuckets(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "objectcore.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()

	_, err = store.RunInTransaction(context.Background(), "", func(tx domain.Transaction) error {
		_, err := tx.CreateTemplate(domain.Template{
			Path:    mustPath(t, "container/rack/tube_rack/1.0"),
			Subtype: domain.SubtypeContainer,
			Prefix:  "RCK",
		})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	rows, err := store.DB().Query(`SELECT bucket FROM state ORDER BY bucket`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var got []string
	for rows.Next() {
		var bucket string
		if err := rows.Scan(&bucket); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, bucket)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	want := []string{"audit", "edges", "instances", "sequences", "templates"}
	if len(got) != len(want) {
		t.Fatalf("buckets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buckets = %v, want %v", got, want)
		}
	}
}

func TestFailedTransactionWritesNothing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "objectcore.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()

	_, err = store.RunInTransaction(context.Background(), "", func(tx domain.Transaction) error {
		_, err := tx.CreateInstance(domain.Instance{TemplateID: "missing", Name: "orphan"})
		return err
	})
	if err == nil {
		t.Fatal("expected error for missing template")
	}

	var n int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("state rows after failed transaction = %d, want 0", n)
	}
}
