package host

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"

	"counterchain/core/events"
	"counterchain/core/types"
	"counterchain/storage"
)

type kvArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type chainArgs struct {
	Target string `json:"target"`
	Method string `json:"method"`
}

func testProgram() Router {
	return Router{
		"put": func(ctx *Context) ([]byte, error) {
			var args kvArgs
			if err := ctx.DecodeArgs(&args); err != nil {
				return nil, err
			}
			if err := ctx.KVPut([]byte(args.Key), args.Value); err != nil {
				return nil, err
			}
			ctx.Emit(&types.Event{Type: "test.put", Attributes: map[string]string{"key": args.Key}})
			return nil, ctx.Log("put " + args.Key)
		},
		"get": func(ctx *Context) ([]byte, error) {
			var args kvArgs
			if err := ctx.DecodeArgs(&args); err != nil {
				return nil, err
			}
			var value string
			if _, err := ctx.KVGet([]byte(args.Key), &value); err != nil {
				return nil, err
			}
			return JSON(value)
		},
		"put_then_abort": func(ctx *Context) ([]byte, error) {
			if err := ctx.KVPut([]byte("doomed"), "yes"); err != nil {
				return nil, err
			}
			ctx.Emit(&types.Event{Type: "test.doomed"})
			return nil, Abort("nope")
		},
		"panic": func(ctx *Context) ([]byte, error) {
			panic("boom")
		},
		"burn": func(ctx *Context) ([]byte, error) {
			for {
				if err := ctx.Log("spin"); err != nil {
					return nil, err
				}
			}
		},
		"chain": func(ctx *Context) ([]byte, error) {
			var args chainArgs
			if err := ctx.DecodeArgs(&args); err != nil {
				return nil, err
			}
			if err := ctx.KVPut([]byte("stage"), "scheduled"); err != nil {
				return nil, err
			}
			call := Call{Receiver: types.AccountID(args.Target), Method: args.Method, Gas: 10 * types.TGas}
			return nil, ctx.Schedule(call, &Continuation{Method: "on_chain", Gas: 10 * types.TGas})
		},
		"on_chain": func(ctx *Context) ([]byte, error) {
			if err := ctx.RequirePrivate(); err != nil {
				return nil, err
			}
			res, err := ctx.PromiseResult(0)
			if err != nil {
				return nil, err
			}
			return nil, ctx.KVPut([]byte("stage"), res.Status.String())
		},
		"now": func(ctx *Context) ([]byte, error) {
			return JSON(map[string]uint64{"height": ctx.BlockHeight(), "ts": ctx.BlockTimestampMs()})
		},
	}
}

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(storage.NewMemDB(), opts...)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	for _, account := range []types.AccountID{"alpha.test", "beta.test"} {
		if err := rt.Deploy(account, testProgram()); err != nil {
			t.Fatalf("deploy %s: %v", account, err)
		}
	}
	return rt
}

func call(method string, args interface{}) types.Transaction {
	raw, _ := json.Marshal(args)
	return types.Transaction{
		Signer:   "alice.test",
		Receiver: "alpha.test",
		Method:   method,
		Args:     raw,
		Gas:      DefaultTransactionGas,
	}
}

func submit(t *testing.T, rt *Runtime, tx types.Transaction) *Result {
	t.Helper()
	res, err := rt.Submit(context.Background(), tx)
	if err != nil {
		t.Fatalf("submit %s: %v", tx.Method, err)
	}
	return res
}

func viewString(t *testing.T, rt *Runtime, account types.AccountID, key string) string {
	t.Helper()
	raw, err := json.Marshal(kvArgs{Key: key})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	out, err := rt.View(context.Background(), account, "get", raw)
	if err != nil {
		t.Fatalf("view %s: %v", key, err)
	}
	var value string
	if err := json.Unmarshal(out, &value); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return value
}

func TestRuntimeCommitsAndEmits(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	stream, cancel := broadcaster.Subscribe(4)
	defer cancel()
	rt := newTestRuntime(t, WithEmitter(broadcaster))

	res := submit(t, rt, call("put", kvArgs{Key: "a", Value: "1"}))
	if !res.Complete() || !res.Succeeded() {
		t.Fatalf("expected a complete successful result")
	}
	if logs := res.Logs(); len(logs) != 1 || logs[0] != "put a" {
		t.Fatalf("unexpected logs %v", logs)
	}
	if got := viewString(t, rt, "alpha.test", "a"); got != "1" {
		t.Fatalf("alpha value = %q", got)
	}
	if got := viewString(t, rt, "beta.test", "a"); got != "" {
		t.Fatalf("namespaces leaked: beta value = %q", got)
	}

	select {
	case evt := <-stream:
		if evt.EventType() != "test.put" {
			t.Fatalf("unexpected event %s", evt.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestRuntimeAbortRevertsState(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	stream, cancel := broadcaster.Subscribe(4)
	defer cancel()
	rt := newTestRuntime(t, WithEmitter(broadcaster))
	root := rt.Root()

	res := submit(t, rt, call("put_then_abort", nil))
	if res.Succeeded() {
		t.Fatalf("expected abort")
	}
	out, _ := res.Original()
	if out.Failure != "nope" {
		t.Fatalf("unexpected failure %q", out.Failure)
	}
	if len(out.Events) != 0 {
		t.Fatalf("aborted outcome kept %d events", len(out.Events))
	}
	if rt.Root() != root {
		t.Fatalf("state root moved after abort")
	}
	if got := viewString(t, rt, "alpha.test", "doomed"); got != "" {
		t.Fatalf("aborted write persisted: %q", got)
	}
	if len(stream) != 0 {
		t.Fatalf("aborted events were broadcast")
	}
}

func TestRuntimeRecoversPanics(t *testing.T) {
	rt := newTestRuntime(t)
	res := submit(t, rt, call("panic", nil))
	failure, ok := res.FirstFailure()
	if !ok {
		t.Fatalf("expected a failure")
	}
	if !strings.Contains(failure.Failure, "program panicked") {
		t.Fatalf("unexpected failure %q", failure.Failure)
	}
}

func TestRuntimeOutOfGas(t *testing.T) {
	rt := newTestRuntime(t)
	tx := call("burn", nil)
	tx.Gas = 2 * types.TGas
	res := submit(t, rt, tx)
	out, _ := res.Original()
	if out.Succeeded() {
		t.Fatalf("expected out of gas failure")
	}
	if out.GasBurnt != tx.Gas {
		t.Fatalf("burnt %d, want %d", out.GasBurnt, tx.Gas)
	}
	if len(out.Logs) != 0 {
		t.Fatalf("failed outcome kept %d logs", len(out.Logs))
	}
}

func TestRuntimeUnknownReceiver(t *testing.T) {
	rt := newTestRuntime(t)
	tx := call("put", kvArgs{Key: "a"})
	tx.Receiver = "ghost.test"
	out, _ := submit(t, rt, tx).Original()
	if !strings.Contains(out.Failure, ErrAccountNotFound.Error()) {
		t.Fatalf("unexpected failure %q", out.Failure)
	}
}

func TestRuntimeContinuationSeesCallOutcome(t *testing.T) {
	rt := newTestRuntime(t)

	res := submit(t, rt, call("chain", chainArgs{Target: "beta.test", Method: "now"}))
	if !res.Complete() {
		t.Fatalf("expected complete result")
	}
	outcomes := res.Outcomes()
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[1].Executor != "beta.test" || outcomes[1].Predecessor != "alpha.test" || outcomes[1].Signer != "alice.test" {
		t.Fatalf("unexpected call identity %+v", outcomes[1])
	}
	if outcomes[2].Method != "on_chain" {
		t.Fatalf("unexpected continuation %s", outcomes[2].Method)
	}
	if outcomes[1].BlockHeight != outcomes[0].BlockHeight+1 || outcomes[2].BlockHeight != outcomes[1].BlockHeight+1 {
		t.Fatalf("receipts must land in consecutive blocks: %d %d %d",
			outcomes[0].BlockHeight, outcomes[1].BlockHeight, outcomes[2].BlockHeight)
	}
	if got := viewString(t, rt, "alpha.test", "stage"); got != "successful" {
		t.Fatalf("stage = %q", got)
	}

	res = submit(t, rt, call("chain", chainArgs{Target: "ghost.test", Method: "now"}))
	if !res.Succeeded() {
		t.Fatalf("continuation should absorb the failed call")
	}
	if len(res.Outcomes()) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(res.Outcomes()))
	}
	if got := viewString(t, rt, "alpha.test", "stage"); got != "failed" {
		t.Fatalf("stage = %q", got)
	}
}

func TestRuntimeStepInterleavesTransactions(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	first, err := rt.Execute(ctx, call("chain", chainArgs{Target: "beta.test", Method: "now"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !rt.Step(ctx) {
		t.Fatalf("expected a receipt to run")
	}
	if rt.Pending() != 2 {
		t.Fatalf("pending = %d", rt.Pending())
	}
	if got := viewString(t, rt, "alpha.test", "stage"); got != "scheduled" {
		t.Fatalf("stage = %q", got)
	}

	second, err := rt.Execute(ctx, call("put", kvArgs{Key: "b", Value: "2"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := rt.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !first.Complete() || !second.Complete() {
		t.Fatalf("drain left results incomplete")
	}
	if rt.Pending() != 0 {
		t.Fatalf("pending = %d after drain", rt.Pending())
	}
}

func TestRuntimePrivateMethod(t *testing.T) {
	rt := newTestRuntime(t)
	out, _ := submit(t, rt, call("on_chain", nil)).Original()
	if !strings.Contains(out.Failure, ErrPrivateMethod.Error()) {
		t.Fatalf("unexpected failure %q", out.Failure)
	}
}

func TestRuntimeViewIsReadOnly(t *testing.T) {
	rt := newTestRuntime(t)
	raw, err := json.Marshal(kvArgs{Key: "a", Value: "1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := rt.View(context.Background(), "alpha.test", "put", raw); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read only error, got %v", err)
	}
	if _, err := rt.View(context.Background(), "ghost.test", "get", raw); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestRuntimeBlockTimeAndSeed(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(1_700_000_000_000 * time.Millisecond)
	var seen []uint64
	rt := newTestRuntime(t, WithClock(mock), WithSeedFunc(func(height uint64, _ common.Hash) [32]byte {
		seen = append(seen, height)
		return [32]byte{}
	}))
	out, _ := submit(t, rt, call("now", nil)).Original()
	if out.TimestampMs != 1_700_000_000_000 || out.BlockHeight != 1 {
		t.Fatalf("unexpected block %d at %d", out.BlockHeight, out.TimestampMs)
	}
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("seed derived for heights %v", seen)
	}
	if string(out.Return) != `{"height":1,"ts":1700000000000}` {
		t.Fatalf("unexpected return %s", out.Return)
	}
}

func TestRuntimeResultHook(t *testing.T) {
	var completed []*Result
	rt := newTestRuntime(t, WithResultHook(func(res *Result) { completed = append(completed, res) }))
	res := submit(t, rt, call("chain", chainArgs{Target: "beta.test", Method: "now"}))
	if len(completed) != 1 || completed[0] != res {
		t.Fatalf("hook should fire once with the finished result, got %d calls", len(completed))
	}
}

func TestRuntimeResumesFromDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	rt, err := New(db)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Deploy("alpha.test", testProgram()); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	submit(t, rt, call("put", kvArgs{Key: "k", Value: "v"}))
	root, height := rt.Root(), rt.Height()
	db.Close()

	db, err = storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer db.Close()
	rt, err = New(db)
	if err != nil {
		t.Fatalf("resume runtime: %v", err)
	}
	if err := rt.Deploy("alpha.test", testProgram()); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if rt.Root() != root || rt.Height() != height {
		t.Fatalf("resumed at %d/%s, want %d/%s", rt.Height(), rt.Root().Hex(), height, root.Hex())
	}
	if got := viewString(t, rt, "alpha.test", "k"); got != "v" {
		t.Fatalf("resumed value = %q", got)
	}
}

func TestGenesisSeedsState(t *testing.T) {
	rt := newTestRuntime(t)
	err := rt.Genesis("alpha.test", func(kv KV) error {
		return kv.KVPut([]byte("g"), "seeded")
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if got := viewString(t, rt, "alpha.test", "g"); got != "seeded" {
		t.Fatalf("seeded value = %q", got)
	}
	if rt.Height() != 0 {
		t.Fatalf("genesis must not advance height, got %d", rt.Height())
	}
}
