package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAccountIDValidate(t *testing.T) {
	valid := []string{"alice.test", "counter.test", "a1", "dev-1681832116683-59715775518634", "user_1.near"}
	for _, raw := range valid {
		if _, err := ParseAccountID(raw); err != nil {
			t.Fatalf("expected %q to be valid: %v", raw, err)
		}
	}
	invalid := []string{"", "a", "Alice.test", ".alice", "alice.", "al..ice", "al ice", "ü.test"}
	for _, raw := range invalid {
		if _, err := ParseAccountID(raw); !errors.Is(err, ErrInvalidAccountID) {
			t.Fatalf("expected %q to be rejected, got %v", raw, err)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	tx := &Transaction{Signer: "alice.test", Receiver: "counter.test", Method: "increment", Gas: 30 * TGas}
	if err := tx.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !tx.AttachedDeposit().IsZero() {
		t.Fatalf("expected zero deposit, got %s", tx.AttachedDeposit())
	}

	tx.Method = " "
	if err := tx.Validate(); !errors.Is(err, ErrTxMissingMethod) {
		t.Fatalf("expected missing method error, got %v", err)
	}
	tx.Method = "increment"
	tx.Gas = 0
	if err := tx.Validate(); !errors.Is(err, ErrTxZeroGas) {
		t.Fatalf("expected zero gas error, got %v", err)
	}
}

func TestAmountJSON(t *testing.T) {
	fee := MustAmount("10000000000000000000000")
	raw, err := json.Marshal(fee)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"10000000000000000000000"` {
		t.Fatalf("unexpected encoding %s", raw)
	}

	var decoded Amount
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.String() != fee.String() {
		t.Fatalf("round trip mismatch: %s != %s", decoded.String(), fee.String())
	}

	if err := json.Unmarshal([]byte(`42`), &decoded); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if decoded.String() != "42" {
		t.Fatalf("unexpected numeric amount %s", decoded.String())
	}

	for _, raw := range []string{`"-1"`, `"abc"`} {
		if err := json.Unmarshal([]byte(raw), &decoded); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected %s to be rejected, got %v", raw, err)
		}
	}
	if !NewAmount(nil).IsZero() {
		t.Fatalf("nil amount should be zero")
	}
}
