package stmtcache

import (
	"context"
	"testing"

	"github.com/nodeql/tunnel/engine/fake"
)

func registerCountingDB(t *testing.T, sqls ...string) *fake.DB {
	t.Helper()
	db := fake.NewDB()
	for _, sql := range sqls {
		db.Register(sql, func() *fake.Stmt { return fake.NewStmt(nil, nil) })
	}
	return db
}

func TestCachePrepareAndGet(t *testing.T) {
	t.Parallel()

	db := registerCountingDB(t, "SELECT 1")
	c := New(db, 0)

	stmt, err := c.Prepare(context.Background(), 1, "SELECT 1")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	got, ok := c.Get(1)
	if !ok || got != stmt {
		t.Fatalf("Get(1) = %v, %v; want the prepared stmt", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheReprepareClosesPrevious(t *testing.T) {
	t.Parallel()

	var closedFirst *fake.Stmt
	db := fake.NewDB()
	first := true
	db.Register("SELECT 1", func() *fake.Stmt {
		s := fake.NewStmt(nil, nil)
		if first {
			closedFirst = s
			first = false
		}
		return s
	})
	c := New(db, 0)

	if _, err := c.Prepare(context.Background(), 1, "SELECT 1"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := c.Prepare(context.Background(), 1, "SELECT 1"); err != nil {
		t.Fatalf("re-Prepare: %v", err)
	}
	if !closedFirst.Closed() {
		t.Error("previous statement at id was not closed on re-Prepare")
	}
}

func TestCacheFIFOEviction(t *testing.T) {
	t.Parallel()

	db := registerCountingDB(t, "A", "B", "C")
	c := New(db, 2)

	if _, err := c.Prepare(context.Background(), 1, "A"); err != nil {
		t.Fatalf("Prepare A: %v", err)
	}
	s1, _ := c.Get(1)
	if _, err := c.Prepare(context.Background(), 2, "B"); err != nil {
		t.Fatalf("Prepare B: %v", err)
	}
	if _, err := c.Prepare(context.Background(), 3, "C"); err != nil {
		t.Fatalf("Prepare C: %v", err)
	}

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get(1); ok {
		t.Error("Get(1) = ok, want evicted")
	}
	if !s1.(*fake.Stmt).Closed() {
		t.Error("evicted statement was not closed")
	}
	if _, ok := c.Get(2); !ok {
		t.Error("Get(2) = not ok, want present")
	}
	if _, ok := c.Get(3); !ok {
		t.Error("Get(3) = not ok, want present")
	}
}

func TestCacheClose(t *testing.T) {
	t.Parallel()

	db := registerCountingDB(t, "A", "B")
	c := New(db, 0)
	c.Prepare(context.Background(), 1, "A")
	c.Prepare(context.Background(), 2, "B")

	s1, _ := c.Get(1)
	s2, _ := c.Get(2)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s1.(*fake.Stmt).Closed() || !s2.(*fake.Stmt).Closed() {
		t.Error("Close did not close all cached statements")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", c.Len())
	}
}

func TestCacheNormalizedSQL(t *testing.T) {
	t.Parallel()

	db := registerCountingDB(t, "SELECT * FROM t WHERE id = 1")
	c := New(db, 0)
	c.Prepare(context.Background(), 1, "SELECT * FROM t WHERE id = 1")

	norm, ok := c.NormalizedSQL(1)
	if !ok {
		t.Fatal("NormalizedSQL(1) not found")
	}
	if want := "SELECT * FROM t WHERE id = ?"; norm != want {
		t.Errorf("NormalizedSQL(1) = %q, want %q", norm, want)
	}
}

func TestCacheNormalizedPeersGroupsSameShape(t *testing.T) {
	t.Parallel()

	db := registerCountingDB(t,
		"SELECT * FROM t WHERE id = 1",
		"SELECT * FROM t WHERE id = 2",
		"SELECT name FROM u WHERE id = 1",
	)
	c := New(db, 0)

	if _, err := c.Prepare(context.Background(), 1, "SELECT * FROM t WHERE id = 1"); err != nil {
		t.Fatalf("Prepare 1: %v", err)
	}
	if _, err := c.Prepare(context.Background(), 2, "SELECT * FROM t WHERE id = 2"); err != nil {
		t.Fatalf("Prepare 2: %v", err)
	}
	if _, err := c.Prepare(context.Background(), 3, "SELECT name FROM u WHERE id = 1"); err != nil {
		t.Fatalf("Prepare 3: %v", err)
	}

	peers := c.NormalizedPeers(1)
	if len(peers) != 1 || peers[0] != 2 {
		t.Errorf("NormalizedPeers(1) = %v, want [2]", peers)
	}
	peers = c.NormalizedPeers(2)
	if len(peers) != 1 || peers[0] != 1 {
		t.Errorf("NormalizedPeers(2) = %v, want [1]", peers)
	}
	if peers := c.NormalizedPeers(3); len(peers) != 0 {
		t.Errorf("NormalizedPeers(3) = %v, want none", peers)
	}

	c.Evict(2)
	if peers := c.NormalizedPeers(1); len(peers) != 0 {
		t.Errorf("NormalizedPeers(1) after evicting its peer = %v, want none", peers)
	}
}
