package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
)

// Stub driver recording transaction outcomes. Just enough surface for
// BeginTx with default options.

type stubConn struct {
	commits   int
	rollbacks int
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return stubTx{conn: c}, nil }

type stubTx struct{ conn *stubConn }

func (t stubTx) Commit() error   { t.conn.commits++; return nil }
func (t stubTx) Rollback() error { t.conn.rollbacks++; return nil }

type stubConnector struct{ conn *stubConn }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                        { return nil }

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{}
	return sql.OpenDB(stubConnector{conn: conn}), conn
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db, conn := newStubDB()
	defer db.Close()

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if conn.commits != 1 || conn.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d, want 1/0", conn.commits, conn.rollbacks)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, conn := newStubDB()
	defer db.Close()

	boom := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if conn.commits != 0 || conn.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", conn.commits, conn.rollbacks)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db, conn := newStubDB()
	defer db.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("panic not re-thrown")
		}
		if conn.commits != 0 || conn.rollbacks != 1 {
			t.Fatalf("commits=%d rollbacks=%d, want 0/1", conn.commits, conn.rollbacks)
		}
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		panic("boom")
	})
}
