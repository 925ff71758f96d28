// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded, want error")
	}
}

func TestTakePutRoundTrip(t *testing.T) {
	pool, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "pool.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "CREATE TABLE t (v INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "INSERT INTO t (v) VALUES (42)", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got int64
	err = sqlitex.ExecuteTransient(conn, "SELECT v FROM t", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestMemoryPoolSharesDatabase(t *testing.T) {
	pool, err := Open(Config{Path: ":memory:", PoolSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	first, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if err := sqlitex.ExecuteTransient(first, "CREATE TABLE t (v INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := sqlitex.ExecuteTransient(first, "INSERT INTO t (v) VALUES (7)", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Hold the first connection so the pool must hand out a second
	// one; the table must be visible there too.
	second, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take second: %v", err)
	}
	var got int64
	err = sqlitex.ExecuteTransient(second, "SELECT v FROM t", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select on second connection: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	pool.Put(second)
	pool.Put(first)
}

func TestMemoryPoolsAreIndependent(t *testing.T) {
	ctx := context.Background()

	first, err := Open(Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	defer first.Close()

	conn, err := first.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "CREATE TABLE t (v INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	first.Put(conn)

	second, err := Open(Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	defer second.Close()

	conn, err = second.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer second.Put(conn)

	var tables int64
	err = sqlitex.ExecuteTransient(conn, "SELECT COUNT(*) FROM sqlite_master WHERE name = 't'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tables = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if tables != 0 {
		t.Error("table created in one :memory: pool is visible in another")
	}
}

func TestOnConnectError(t *testing.T) {
	pool, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "pool.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, "THIS IS NOT SQL", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	// Connections are prepared lazily; the OnConnect failure surfaces
	// on first Take.
	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("Take succeeded despite failing OnConnect")
	}
}
