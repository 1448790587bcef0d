package counter

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"

	"counterchain/core/host"
	"counterchain/core/types"
	"counterchain/storage"
)

const counterAccount types.AccountID = "counter.test"

func newCounter(t *testing.T, cfg Config, opts ...host.Option) *host.Runtime {
	t.Helper()
	rt, err := host.New(storage.NewMemDB(), opts...)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Deploy(counterAccount, NewEngine(cfg)); err != nil {
		t.Fatalf("deploy counter: %v", err)
	}
	return rt
}

func seedValue(t *testing.T, rt *host.Runtime, value *uint256.Int) {
	t.Helper()
	err := rt.Genesis(counterAccount, func(kv host.KV) error {
		return SetInitialValue(kv, value)
	})
	if err != nil {
		t.Fatalf("seed counter: %v", err)
	}
}

func act(t *testing.T, rt *host.Runtime, signer types.AccountID, method string, deposit *uint256.Int) *host.Result {
	t.Helper()
	res, err := rt.Submit(context.Background(), types.Transaction{
		Signer:   signer,
		Receiver: counterAccount,
		Method:   method,
		Deposit:  deposit,
		Gas:      host.DefaultTransactionGas,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", method, err)
	}
	if !res.Complete() {
		t.Fatalf("%s left receipts pending", method)
	}
	return res
}

func mustSucceed(t *testing.T, res *host.Result) {
	t.Helper()
	if failure, failed := res.FirstFailure(); failed {
		t.Fatalf("%s failed: %s", failure.Method, failure.Failure)
	}
}

func viewJSON(t *testing.T, rt *host.Runtime, method string, args interface{}, out interface{}) {
	t.Helper()
	var raw []byte
	if args != nil {
		var err error
		raw, err = json.Marshal(args)
		if err != nil {
			t.Fatalf("marshal args: %v", err)
		}
	}
	ret, err := rt.View(context.Background(), counterAccount, method, raw)
	if err != nil {
		t.Fatalf("view %s: %v", method, err)
	}
	if err := json.Unmarshal(ret, out); err != nil {
		t.Fatalf("decode %s: %v", method, err)
	}
}

func counterValue(t *testing.T, rt *host.Runtime) string {
	t.Helper()
	var value types.Amount
	viewJSON(t, rt, "get_value", nil, &value)
	return value.String()
}

func recordsLength(t *testing.T, rt *host.Runtime) uint64 {
	t.Helper()
	var n uint64
	viewJSON(t, rt, "get_records_length", nil, &n)
	return n
}

func expectValue(t *testing.T, rt *host.Runtime, want string) {
	t.Helper()
	if got := counterValue(t, rt); got != want {
		t.Fatalf("counter value = %s, want %s", got, want)
	}
}

func fee() *uint256.Int { return new(uint256.Int).Set(DefaultEntryFee) }

func TestInsufficientFeeAbortsWithoutMutation(t *testing.T) {
	rt := newCounter(t, DefaultConfig())
	seedValue(t, rt, uint256.NewInt(5))

	out, _ := act(t, rt, "alice.test", "increment", nil).Original()
	if out.Succeeded() {
		t.Fatalf("increment without deposit succeeded")
	}
	if out.Failure != "insufficient deposit, please attach at least 10000000000000000000000" {
		t.Fatalf("unexpected failure %q", out.Failure)
	}
	if len(out.Logs) != 0 || len(out.Events) != 0 {
		t.Fatalf("aborted action left %d logs and %d events", len(out.Logs), len(out.Events))
	}
	expectValue(t, rt, "5")
	if n := recordsLength(t, rt); n != 0 {
		t.Fatalf("records length = %d", n)
	}

	short := new(uint256.Int).Sub(fee(), uint256.NewInt(1))
	if act(t, rt, "alice.test", "decrement", short).Succeeded() {
		t.Fatalf("decrement one yocto short succeeded")
	}
	expectValue(t, rt, "5")

	mustSucceed(t, act(t, rt, "alice.test", "decrement", fee()))
	expectValue(t, rt, "4")
}

func TestSequentialActionsRecordInOrder(t *testing.T) {
	mock := clock.NewMock()
	rt := newCounter(t, DefaultConfig(), host.WithClock(mock))

	for _, step := range []struct {
		user   types.AccountID
		method string
	}{{"a.test", "increment"}, {"b.test", "increment"}, {"c.test", "decrement"}} {
		mock.Add(time.Second)
		mustSucceed(t, act(t, rt, step.user, step.method, fee()))
	}
	expectValue(t, rt, "1")
	if n := recordsLength(t, rt); n != 3 {
		t.Fatalf("records length = %d", n)
	}

	var records []Record
	viewJSON(t, rt, "query_all_records", nil, &records)
	want := []Record{
		{TimestampMs: 3000, User: "c.test", Action: ActionDecrement},
		{TimestampMs: 2000, User: "b.test", Action: ActionIncrement},
		{TimestampMs: 1000, User: "a.test", Action: ActionIncrement},
	}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("records = %+v, want %+v", records, want)
	}

	for _, tc := range []struct {
		args map[string]string
		want []types.AccountID
	}{
		{map[string]string{"from_index": "1"}, []types.AccountID{"b.test", "a.test"}},
		{map[string]string{"from_index": "0", "limit": "1"}, []types.AccountID{"c.test"}},
		{map[string]string{"from_index": "3"}, nil},
		{map[string]string{"limit": "0"}, nil},
		{map[string]string{"from_index": "340282366920938463463374607431768211455"}, nil},
	} {
		var page []Record
		viewJSON(t, rt, "query_records", tc.args, &page)
		expectUsers(t, page, tc.want...)
	}
}

func TestActionReturnsValueAndLogsEvent(t *testing.T) {
	rt := newCounter(t, DefaultConfig())
	out, _ := act(t, rt, "alice.test", "increment", fee()).Original()
	if string(out.Return) != `"1"` {
		t.Fatalf("unexpected return %s", out.Return)
	}
	wantLog := `EVENT_JSON:{"version":"1.0.0","event":"perform_action","data":"perform action (Increment) = 1"}`
	if len(out.Logs) != 1 || out.Logs[0] != wantLog {
		t.Fatalf("unexpected logs %v", out.Logs)
	}
	if len(out.Events) != 1 || out.Events[0].Type != EventTypePerformAction {
		t.Fatalf("unexpected events %+v", out.Events)
	}
	wantAttrs := map[string]string{
		"version":   EventVersion,
		"requested": "Increment",
		"action":    "Increment",
		"value":     "1",
		"user":      "alice.test",
	}
	if !reflect.DeepEqual(out.Events[0].Attributes, wantAttrs) {
		t.Fatalf("attributes = %v", out.Events[0].Attributes)
	}
}

func TestSaturationAtBothEnds(t *testing.T) {
	rt := newCounter(t, DefaultConfig())
	mustSucceed(t, act(t, rt, "alice.test", "decrement", fee()))
	expectValue(t, rt, "0")

	ceiling := new(uint256.Int).SetAllOne()
	seedValue(t, rt, ceiling)
	mustSucceed(t, act(t, rt, "alice.test", "increment", fee()))
	expectValue(t, rt, ceiling.Dec())
	if n := recordsLength(t, rt); n != 2 {
		t.Fatalf("saturated actions must still record, length = %d", n)
	}
}

func TestRandomRecordsResolvedKind(t *testing.T) {
	odd := func(uint64, common.Hash) [32]byte {
		var seed [32]byte
		seed[0] = 0x01
		return seed
	}
	rt := newCounter(t, DefaultConfig(), host.WithSeedFunc(odd))
	seedValue(t, rt, uint256.NewInt(5))

	res := act(t, rt, "alice.test", "random", fee())
	mustSucceed(t, res)
	out, _ := res.Original()
	wantLog := `EVENT_JSON:{"version":"1.0.0","event":"perform_action","data":"perform action (Random) = 4"}`
	if len(out.Logs) != 1 || out.Logs[0] != wantLog {
		t.Fatalf("unexpected logs %v", out.Logs)
	}
	attrs := out.Events[0].Attributes
	if attrs["action"] != "Decrement" || attrs["requested"] != "Random" {
		t.Fatalf("unexpected attributes %v", attrs)
	}

	var records []Record
	viewJSON(t, rt, "query_all_records", nil, &records)
	if len(records) != 1 || records[0].Action != ActionDecrement {
		t.Fatalf("expected one Decrement record, got %+v", records)
	}
}

func TestEntryFeeView(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EntryFee = uint256.NewInt(7)
	rt := newCounter(t, cfg)
	var entryFee types.Amount
	viewJSON(t, rt, "get_entry_fee", nil, &entryFee)
	if entryFee.String() != "7" {
		t.Fatalf("entry fee = %s", entryFee.String())
	}

	mustSucceed(t, act(t, rt, "alice.test", "increment", uint256.NewInt(7)))
}

func TestViewsCannotMutate(t *testing.T) {
	rt := newCounter(t, DefaultConfig())
	if _, err := rt.View(context.Background(), counterAccount, "increment", nil); err == nil {
		t.Fatalf("increment through a view succeeded")
	}
	expectValue(t, rt, "0")
}

func TestWholeLogReadIsBoundedByViewGas(t *testing.T) {
	rt := newCounter(t, DefaultConfig(), host.WithViewGas(types.TGas))
	err := rt.Genesis(counterAccount, func(kv host.KV) error {
		log := NewRecordLog(kv)
		for i := 0; i < 40; i++ {
			if _, err := log.Append(Record{TimestampMs: uint64(i), User: "alice.test", Action: ActionIncrement}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed records: %v", err)
	}

	if _, err := rt.View(context.Background(), counterAccount, "query_all_records", nil); !host.IsOutOfGas(err) {
		t.Fatalf("expected the whole log read to run out of gas, got %v", err)
	}

	var page []Record
	viewJSON(t, rt, "query_records", map[string]string{"from_index": "35", "limit": "3"}, &page)
	if len(page) != 3 || page[0].TimestampMs != 4 || page[2].TimestampMs != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
}
