package counter

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"counterchain/core/host"
	"counterchain/core/types"
	"counterchain/native/token"
	"counterchain/storage"
)

const issuerAccount types.AccountID = "token.test"

func newSettlement(t *testing.T, tokenCfg *token.Config, cfg Config) *host.Runtime {
	t.Helper()
	rt, err := host.New(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if cfg.Token == "" {
		cfg.Token = issuerAccount
	}
	if err := rt.Deploy(counterAccount, NewEngine(cfg)); err != nil {
		t.Fatalf("deploy counter: %v", err)
	}
	if tokenCfg == nil {
		return rt
	}
	if err := rt.Deploy(issuerAccount, token.NewEngine(*tokenCfg)); err != nil {
		t.Fatalf("deploy issuer: %v", err)
	}
	res, err := rt.Submit(context.Background(), types.Transaction{
		Signer:   issuerAccount,
		Receiver: issuerAccount,
		Method:   "new",
		Gas:      host.DefaultTransactionGas,
	})
	if err != nil {
		t.Fatalf("initialize issuer: %v", err)
	}
	mustSucceed(t, res)
	return rt
}

func methods(res *host.Result) []string {
	var out []string
	for _, o := range res.Outcomes() {
		out = append(out, o.Method)
	}
	return out
}

func expectMethods(t *testing.T, res *host.Result, want ...string) {
	t.Helper()
	if got := methods(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("receipt chain = %v, want %v", got, want)
	}
}

func tokenBalance(t *testing.T, rt *host.Runtime, account types.AccountID) string {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"account_id": string(account)})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	ret, err := rt.View(context.Background(), issuerAccount, "ft_balance_of", raw)
	if err != nil {
		t.Fatalf("ft_balance_of %s: %v", account, err)
	}
	var balance types.Amount
	if err := json.Unmarshal(ret, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	return balance.String()
}

func expectBalance(t *testing.T, rt *host.Runtime, account types.AccountID, want string) {
	t.Helper()
	if got := tokenBalance(t, rt, account); got != want {
		t.Fatalf("balance of %s = %s, want %s", account, got, want)
	}
}

func TestSettlementMintsReward(t *testing.T) {
	tokenCfg := token.DefaultConfig()
	rt := newSettlement(t, &tokenCfg, DefaultConfig())

	res := act(t, rt, "alice.test", "increment", fee())
	expectMethods(t, res, "increment", "storage_deposit", "on_storage_deposit", "ft_mint", "on_ft_mint")
	mustSucceed(t, res)
	outcomes := res.Outcomes()
	if outcomes[1].Predecessor != counterAccount {
		t.Fatalf("storage_deposit predecessor = %s", outcomes[1].Predecessor)
	}
	if outcomes[3].Signer != "alice.test" {
		t.Fatalf("ft_mint signer = %s", outcomes[3].Signer)
	}
	if outcomes[1].Deposit.Dec() != fee().Dec() {
		t.Fatalf("storage_deposit carried %s", outcomes[1].Deposit.Dec())
	}
	if logs := outcomes[4].Logs; len(logs) != 1 || logs[0] != MsgMintSucceeded {
		t.Fatalf("on_ft_mint logs = %v", logs)
	}
	expectBalance(t, rt, "alice.test", "1")
	expectValue(t, rt, "1")

	res = act(t, rt, "alice.test", "decrement", fee())
	refunded := false
	for _, line := range res.Logs() {
		if line == "The account is already registered, refunding the deposit" {
			refunded = true
		}
	}
	if !refunded {
		t.Fatalf("expected a refund log, got %v", res.Logs())
	}
	mustSucceed(t, res)
	expectBalance(t, rt, "alice.test", "2")
	expectValue(t, rt, "0")
}

func TestSettlementRegistrationFailureKeepsCounter(t *testing.T) {
	rt := newSettlement(t, nil, DefaultConfig())

	res := act(t, rt, "alice.test", "increment", fee())
	if !res.Succeeded() {
		t.Fatalf("original action must succeed")
	}
	expectMethods(t, res, "increment", "storage_deposit", "on_storage_deposit")
	outcomes := res.Outcomes()
	if outcomes[1].Succeeded() || outcomes[2].Succeeded() {
		t.Fatalf("registration against a missing issuer must fail")
	}
	if outcomes[2].Failure != MsgStorageDepositFailed {
		t.Fatalf("callback failure = %q", outcomes[2].Failure)
	}

	expectValue(t, rt, "1")
	if n := recordsLength(t, rt); n != 1 {
		t.Fatalf("records length = %d", n)
	}
}

func TestSettlementMintFailureKeepsCounter(t *testing.T) {
	tokenCfg := token.DefaultConfig()
	tokenCfg.MaxSupply = uint256.NewInt(1)
	rt := newSettlement(t, &tokenCfg, DefaultConfig())

	mustSucceed(t, act(t, rt, "alice.test", "increment", fee()))

	res := act(t, rt, "bob.test", "increment", fee())
	if !res.Succeeded() {
		t.Fatalf("original action must succeed")
	}
	outcomes := res.Outcomes()
	if len(outcomes) != 5 {
		t.Fatalf("expected 5 outcomes, got %d", len(outcomes))
	}
	if outcomes[3].Failure != "all tokens minted" || outcomes[4].Failure != MsgMintFailed {
		t.Fatalf("unexpected failures %q / %q", outcomes[3].Failure, outcomes[4].Failure)
	}
	failure, ok := res.FirstFailure()
	if !ok || failure.Method != "ft_mint" {
		t.Fatalf("first failure = %+v", failure)
	}

	expectValue(t, rt, "2")
	if n := recordsLength(t, rt); n != 2 {
		t.Fatalf("records length = %d", n)
	}
	expectBalance(t, rt, "bob.test", "0")
	expectBalance(t, rt, "alice.test", "1")
}

func TestSettlementCallOutOfGasIsOrdinaryFailure(t *testing.T) {
	tokenCfg := token.DefaultConfig()
	cfg := DefaultConfig()
	cfg.CallGas = types.TGas
	rt := newSettlement(t, &tokenCfg, cfg)

	outcomes := act(t, rt, "alice.test", "increment", fee()).Outcomes()
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !strings.Contains(outcomes[1].Failure, host.ErrOutOfGas.Error()) {
		t.Fatalf("storage_deposit failure = %q", outcomes[1].Failure)
	}
	if outcomes[2].Failure != MsgStorageDepositFailed {
		t.Fatalf("callback failure = %q", outcomes[2].Failure)
	}
	expectValue(t, rt, "1")
}

func TestCallbacksArePrivate(t *testing.T) {
	tokenCfg := token.DefaultConfig()
	rt := newSettlement(t, &tokenCfg, DefaultConfig())
	for _, method := range []string{"on_storage_deposit", "on_ft_mint"} {
		out, _ := act(t, rt, "alice.test", method, nil).Original()
		if !strings.Contains(out.Failure, host.ErrPrivateMethod.Error()) {
			t.Fatalf("%s from outside: %q", method, out.Failure)
		}
	}
}

func TestInsufficientFeeSchedulesNothing(t *testing.T) {
	tokenCfg := token.DefaultConfig()
	rt := newSettlement(t, &tokenCfg, DefaultConfig())
	res := act(t, rt, "alice.test", "increment", uint256.NewInt(1))
	expectMethods(t, res, "increment")
	if rt.Pending() != 0 {
		t.Fatalf("pending = %d", rt.Pending())
	}
}

func TestObserveResultIgnoresFailures(t *testing.T) {
	tokenCfg := token.DefaultConfig()
	rt := newSettlement(t, &tokenCfg, DefaultConfig())
	res := act(t, rt, "alice.test", "increment", uint256.NewInt(1))
	ObserveResult(res)
	ObserveResult(act(t, rt, "alice.test", "increment", fee()))
	ObserveResult(nil)
}
