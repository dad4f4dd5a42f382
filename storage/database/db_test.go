package database

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "pq unique", err: &pq.Error{Code: "23505"}, want: true},
		{name: "pq fk", err: &pq.Error{Code: "23503"}},
		{name: "sqlite unique", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, want: true},
		{name: "sqlite fk", err: sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}},
		{name: "wrapped", err: errors.Wrap(&pq.Error{Code: "23505"}, "inserting"), want: true},
		{name: "other", err: errors.New("lol")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "noop"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}

	err := Wrap(&pq.Error{Code: "23505", Message: "duplicate key"}, "inserting course")
	if !core.IsUniqueViolation(err) {
		t.Errorf("Wrap() = %v, want a unique violation", err)
	}
	if !strings.HasPrefix(err.Error(), "inserting course") {
		t.Errorf("Wrap().Error() = %q", err.Error())
	}

	orig := errors.New("boom")
	if err = Wrap(orig, "inserting course"); errors.Cause(err) != orig {
		t.Errorf("Wrap() cause = %v, want %v", errors.Cause(err), orig)
	}
}

func TestSqliteDSN(t *testing.T) {
	u, err := url.Parse(sqliteDSN("/tmp/masomo.db"))
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	q := u.Query()
	for key, want := range map[string]string{"_foreign_keys": "on", "_txlock": "immediate", "_busy_timeout": "10000"} {
		if got := q.Get(key); got != want {
			t.Errorf("sqliteDSN() %s = %q, want %q", key, got, want)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	conf := core.NewTestConfig("")
	conf.Database.Engine = core.EnginePostgres
	conf.Database.DisableTLS = false

	u, err := url.Parse(postgresDSN("masomo", false, conf))
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Scheme != core.EnginePostgres || u.Path != "/masomo" || u.Query().Get("sslmode") != "require" {
		t.Errorf("postgresDSN() = %s", u)
	}
}

func TestOpenAndMigrate(t *testing.T) {
	conf := core.NewTestConfig(filepath.Join(t.TempDir(), "masomo_test.db"))
	db, err := Open(conf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err = CreateIfNotExist(conf); err != nil {
		t.Errorf("CreateIfNotExist() error = %v", err)
	}
	if err = Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if got := LockClause(db); got != "" {
		t.Errorf("LockClause() = %q, want none on sqlite3", got)
	}

	var tables []string
	err = db.SelectContext(context.Background(), &tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'goose%' AND name NOT LIKE 'sqlite%' ORDER BY name`)
	if err != nil {
		t.Fatalf("listing tables: %v", err)
	}
	want := []string{"courses", "enrollments", "lesson_completions", "lessons", "modules", "users"}
	if strings.Join(tables, ",") != strings.Join(want, ",") {
		t.Errorf("tables = %v, want %v", tables, want)
	}
}
