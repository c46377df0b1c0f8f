package dynamostore

import "testing"

func TestNewRequiresTableName(t *testing.T) {
	if _, err := New(Config{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error with empty table name")
	}
}

func TestWriteRejectsOversizedItem(t *testing.T) {
	store := NewWithClient(nil, "responses")
	big := make([]byte, maxItemBytes+1)

	err := store.Write(nil, "k", big) //nolint:staticcheck
	if err == nil {
		t.Fatal("expected an oversized-item error")
	}
}
