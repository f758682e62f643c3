package amqp

import (
	"testing"
)

func TestLedgerEventRoundtrip(t *testing.T) {
	event := NewLedgerEvent(EventTransactionCreated, 42, 7, "income", "20", "allowance")

	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	got, err := LedgerEventFromJSON(data)
	if err != nil {
		t.Fatalf("LedgerEventFromJSON() error = %v", err)
	}
	if got.Kind != EventTransactionCreated || got.TransactionID != 42 || got.UserID != 7 {
		t.Errorf("roundtrip = %+v", got)
	}
	if got.Amount != "20" || got.Category != "allowance" {
		t.Errorf("roundtrip payload = %+v", got)
	}
}

func TestLedgerEventFromJSON_Invalid(t *testing.T) {
	if _, err := LedgerEventFromJSON([]byte("not json")); err == nil {
		t.Error("LedgerEventFromJSON(garbage) expected error, got nil")
	}
}
