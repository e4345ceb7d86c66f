package mysql

import (
	"strings"
	"testing"
)

func TestSchema(t *testing.T) {
	statements, err := Schema("email")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(statements))
	}
	if !strings.Contains(statements[0], "email_templates") {
		t.Fatalf("expected templates table in first statement")
	}
	if !strings.Contains(statements[1], "id BINARY(16) NOT NULL") {
		t.Fatalf("expected binary id in outbox schema")
	}
	if !strings.Contains(statements[1], "INDEX idx_status_created (status, created_at, id)") {
		t.Fatalf("expected claim index in outbox schema")
	}
	if !strings.Contains(statements[2], "details VARCHAR(1024) NULL") {
		t.Fatalf("expected bounded details column in log schema")
	}
}

func TestSchemaRejectsInvalidPrefix(t *testing.T) {
	if _, err := Schema("email;drop"); err == nil {
		t.Fatalf("expected invalid prefix error")
	}
}
