package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"kincore/pkg/domain"
)

var stubSeq uint64

// stubConn emulates the narrow slice of Postgres behavior the store uses:
// ping, DDL execs, snapshot upserts, and the state select.
type stubConn struct {
	buckets  map[string][]byte
	execs    []string
	failPing bool
}

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{buckets: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", atomic.AddUint64(&stubSeq, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *stubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("not implemented")
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

func (c *stubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return stubTx{}, nil
}

func (c *stubConn) Ping(context.Context) error {
	if c.failPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.execs = append(c.execs, query)
	if strings.Contains(query, "INSERT INTO state") {
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("bucket arg type %T", args[0].Value)
		}
		payload, ok := args[1].Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("payload arg type %T", args[1].Value)
		}
		c.buckets[bucket] = append([]byte(nil), payload...)
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(query, "FROM state") {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	rows := &stubRows{}
	for bucket, payload := range c.buckets {
		rows.data = append(rows.data, [2]any{bucket, append([]byte(nil), payload...)})
	}
	return rows, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	data [][2]any
	pos  int
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	dest[0] = r.data[r.pos][0]
	dest[1] = r.data[r.pos][1]
	r.pos++
	return nil
}

func TestNewStoreLoadsExistingSnapshot(t *testing.T) {
	db, conn := newStubDB()
	trees := map[string]domain.FamilyTree{
		"t1": {Base: domain.Base{ID: "t1"}, OwnerUserID: "alice"},
	}
	persons := map[string]map[string]domain.PersonNode{
		"t1": {"p1": {Base: domain.Base{ID: "p1"}, TreeID: "t1", Gender: domain.GenderFemale}},
	}
	var err error
	if conn.buckets["trees"], err = json.Marshal(trees); err != nil {
		t.Fatalf("marshal trees: %v", err)
	}
	if conn.buckets["persons"], err = json.Marshal(persons); err != nil {
		t.Fatalf("marshal persons: %v", err)
	}

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tree, ok := store.GetTree("t1")
	if !ok || tree.OwnerUserID != "alice" {
		t.Fatalf("snapshot not hydrated: %+v", tree)
	}
	if _, ok := store.GetPerson("t1", "p1"); !ok {
		t.Fatalf("person not hydrated")
	}

	var sawDDL bool
	for _, stmt := range conn.execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.execs)
	}
}

func TestRunInTransactionSnapshotsToPostgres(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTree(domain.FamilyTree{Base: domain.Base{ID: "t1"}, OwnerUserID: "alice"})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}

	payload, ok := conn.buckets["trees"]
	if !ok {
		t.Fatalf("trees bucket not written, got %v", conn.buckets)
	}
	var trees map[string]domain.FamilyTree
	if err := json.Unmarshal(payload, &trees); err != nil {
		t.Fatalf("decode persisted trees: %v", err)
	}
	if trees["t1"].OwnerUserID != "alice" {
		t.Fatalf("persisted tree wrong: %+v", trees["t1"])
	}
	if _, ok := conn.buckets["persons"]; !ok {
		t.Fatalf("persons bucket not written")
	}
}

func TestNewStorePropagatesOpenAndPingErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return nil, errors.New("refused")
	})
	_, err := NewStore("", nil)
	restore()
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected open error, got %v", err)
	}

	db, conn := newStubDB()
	conn.failPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}
