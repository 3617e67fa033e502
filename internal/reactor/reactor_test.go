package reactor

import (
	"log/slog"
	"testing"

	"mirrormaker/internal/account"
	"mirrormaker/internal/config"
	"mirrormaker/internal/executor"
)

func connectedAccount(t *testing.T, connected bool) *accountState {
	t.Helper()
	acct := account.New(0, "test", account.Flags{})
	as := &accountState{
		id:      0,
		cfg:     config.AccountConfig{ID: "acct"},
		account: acct,
		exec:    executor.New(0, nil, 5, slog.Default()),
	}
	as.setConnected(connected)
	return as
}

// Scenario F: a tick must be a no-op (no panic, no executor dispatch) when
// the target account's websocket is not connected, even though nothing
// else about the strategy was touched to set this up.
func TestTick_ScenarioF_SkipsWhenTargetDisconnected(t *testing.T) {
	r := &Reactor{logger: slog.Default()}
	ss := &strategyState{
		id:            1,
		cfg:           config.StrategyConfig{ID: "s1"},
		targetAccount: connectedAccount(t, false),
		sourceAccount: connectedAccount(t, true),
	}

	r.tick(ss) // must return before touching ss.strategy, ss.targetMarket, etc.

	if got := ss.targetAccount.exec.QueueLen(ss.id); got != 0 {
		t.Errorf("expected no queued actions on a skipped tick, got %d", got)
	}
}

// Scenario F, linked-strategy variant: the source (linked) account being
// disconnected also skips the tick.
func TestTick_ScenarioF_SkipsWhenSourceDisconnected(t *testing.T) {
	r := &Reactor{logger: slog.Default()}
	ss := &strategyState{
		id:            1,
		cfg:           config.StrategyConfig{ID: "s1"},
		targetAccount: connectedAccount(t, true),
		sourceAccount: connectedAccount(t, false),
	}

	r.tick(ss)

	if got := ss.targetAccount.exec.QueueLen(ss.id); got != 0 {
		t.Errorf("expected no queued actions on a skipped tick, got %d", got)
	}
}

// A panic inside tick is fatal to that strategy only: it is recovered,
// the strategy is marked stopped, and tickLoop exits instead of
// rescheduling. A nil sourceMarket is enough to trigger the panic without
// standing up a full strategy.
func TestTick_PanicStopsOnlyThatStrategy(t *testing.T) {
	r := &Reactor{logger: slog.Default()}
	ss := &strategyState{
		id:            1,
		cfg:           config.StrategyConfig{ID: "s1"},
		targetAccount: connectedAccount(t, true),
		sourceAccount: connectedAccount(t, true),
	}

	r.tick(ss) // ss.sourceMarket is nil: dereferencing it panics and is recovered

	if !ss.stopped.Load() {
		t.Fatal("expected strategy to be marked stopped after a recovered panic")
	}

	other := &strategyState{
		id:            2,
		cfg:           config.StrategyConfig{ID: "s2"},
		targetAccount: connectedAccount(t, false),
		sourceAccount: connectedAccount(t, true),
	}
	r.tick(other)
	if other.stopped.Load() {
		t.Fatal("an unrelated strategy must not be affected by another strategy's panic")
	}
}

func TestAccountState_ConnectedTransitions(t *testing.T) {
	as := connectedAccount(t, false)
	if as.isConnected() {
		t.Fatal("expected not connected initially")
	}
	as.setConnected(true)
	if !as.isConnected() {
		t.Fatal("expected connected after setConnected(true)")
	}
	as.setConnected(false)
	if as.isConnected() {
		t.Fatal("expected not connected after setConnected(false)")
	}
}
