package db

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMigrationsOrderedAndComplete(t *testing.T) {
	migrations, err := Migrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Name >= migrations[i].Name {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].Name, migrations[i].Name)
		}
	}

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	schema := all.String()
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS deals",
		"CREATE TABLE IF NOT EXISTS deal_status_history",
		"disputes_one_active",
		"CREATE TABLE IF NOT EXISTS settlements",
		"FUNCTION is_deal_owner",
		"'refunded'",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil, "") {
		t.Fatalf("nil error is not a unique violation")
	}

	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "disputes_one_active"})
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected wrapped 23505 to match")
	}
	if !IsUniqueViolation(err, "disputes_one_active") {
		t.Fatalf("expected constraint match")
	}
	if IsUniqueViolation(err, "users_email_key") {
		t.Fatalf("expected constraint mismatch")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatalf("foreign key violation is not a unique violation")
	}
}
