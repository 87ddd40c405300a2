package main

import (
	"context"
	"math/big"
	"testing"

	"escrowd/config"
	"escrowd/core/events"
	"escrowd/native/escrow"
	"escrowd/storage"
)

func TestNewNodeAppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = storage.BackendMemory
	cfg.Owner = "0x00000000000000000000000000000000000000aa"
	cfg.Genesis = []config.GenesisAlloc{{Address: "0x0000000000000000000000000000000000000001", Balance: "42"}}

	db, err := storage.Open(cfg.Storage.Backend, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	node, err := newNode(db, cfg, events.NoopEmitter{}, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer node.Close()

	if got := escrow.FormatAddress(node.Owner()); got != cfg.Owner {
		t.Fatalf("owner = %s", got)
	}
	balance, err := node.Balance([20]byte{19: 0x01})
	if err != nil || balance.Int64() != 42 {
		t.Fatalf("genesis balance = %v, %v", balance, err)
	}
	if node.Params() != escrow.DefaultParams() {
		t.Fatalf("params = %+v", node.Params())
	}
}

func TestNewNodeRejectsUnknownSelector(t *testing.T) {
	cfg := config.Default()
	cfg.Selector = "round-robin"
	if _, err := newNode(storage.NewMemDB(), cfg, events.NoopEmitter{}, nil); err == nil {
		t.Fatalf("expected selector error")
	}
}

func TestOpenSinksSharesSQLiteBetweenJournalAndIndexer(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Storage.Backend = storage.BackendMemory
	cfg.Journal.Path = "journal/events.db"
	cfg.Indexer.DSN = "index.db"
	cfg.Genesis = []config.GenesisAlloc{{Address: "0x0000000000000000000000000000000000000001", Balance: "500"}}

	out, err := openSinks(cfg, nil)
	if err != nil {
		t.Fatalf("open sinks: %v", err)
	}
	if out.journal == nil || out.projector == nil {
		t.Fatalf("journal and indexer must both be configured")
	}
	if len(out.options) != 2 || len(out.closers) != 2 {
		t.Fatalf("options = %d closers = %d", len(out.options), len(out.closers))
	}

	node, err := newNode(storage.NewMemDB(), cfg, out.emitters, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	depositor := [20]byte{19: 0x01}
	beneficiary := [20]byte{19: 0x02}
	agreement, err := node.CreateAgreement(depositor, big.NewInt(200), beneficiary, "doc", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx := context.Background()
	entries, err := out.journal.ListByAgreement(ctx, agreement.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("journal entries = %d, %v", len(entries), err)
	}
	view, err := out.projector.Agreement(ctx, agreement.ID)
	if err != nil {
		t.Fatalf("indexer view: %v", err)
	}
	if view.Status != escrow.StatusFunded.String() || view.Amount != "200" {
		t.Fatalf("view = %+v", view)
	}

	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close sinks: %v", err)
	}
	if len(out.closers) != 0 {
		t.Fatalf("closers not released")
	}
}

func TestOpenSinksWithoutStores(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Path = ""
	out, err := openSinks(cfg, nil)
	if err != nil {
		t.Fatalf("open sinks: %v", err)
	}
	if len(out.emitters) != 1 || out.journal != nil || out.projector != nil {
		t.Fatalf("unexpected sinks: %+v", out)
	}
}
