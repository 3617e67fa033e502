package store

import (
	"testing"

	"github.com/shopspring/decimal"

	"mirrormaker/pkg/types"
)

func TestSaveAndLoadBalances(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	balances := []types.Balance{
		{Currency: "USD", Free: decimal.NewFromFloat(100.5), Locked: decimal.NewFromFloat(3.2), Total: decimal.NewFromFloat(103.7)},
	}

	if err := s.SaveBalances("acct1", balances); err != nil {
		t.Fatalf("SaveBalances: %v", err)
	}

	loaded, err := s.LoadBalances("acct1")
	if err != nil {
		t.Fatalf("LoadBalances: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 balance, got %d", len(loaded))
	}
	if !loaded[0].Free.Equal(balances[0].Free) {
		t.Errorf("Free = %v, want %v", loaded[0].Free, balances[0].Free)
	}
}

func TestLoadBalancesMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadBalances("nonexistent")
	if err != nil {
		t.Fatalf("LoadBalances: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing balances, got %+v", loaded)
	}
}

func TestSaveBalancesOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveBalances("acct1", []types.Balance{{Currency: "USD", Free: decimal.NewFromInt(10)}})
	_ = s.SaveBalances("acct1", []types.Balance{{Currency: "USD", Free: decimal.NewFromInt(20)}})

	loaded, err := s.LoadBalances("acct1")
	if err != nil {
		t.Fatalf("LoadBalances: %v", err)
	}
	if !loaded[0].Free.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Free = %v, want 20 (latest save)", loaded[0].Free)
	}
}
