package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"escrowd/core"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/storage"
)

func setupProjector(t *testing.T) *Projector {
	t.Helper()
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	return NewProjector(db, nil)
}

func TestOpenDatabaseRequiresDSN(t *testing.T) {
	if _, err := OpenDatabase("  "); err == nil {
		t.Fatalf("expected empty dsn to fail")
	}
}

func TestProjectorFollowsNode(t *testing.T) {
	projector := setupProjector(t)
	ctx := context.Background()

	now := int64(1_700_000_000)
	owner := [20]byte{0x0A}
	depositor := [20]byte{0x01}
	beneficiary := [20]byte{0x02}
	arbitrator := [20]byte{0x0C}
	node, err := core.NewNode(storage.NewMemDB(), core.Config{
		Owner:   owner,
		Emitter: projector,
		Clock:   func() int64 { return now },
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := node.ApplyGenesis(map[[20]byte]*big.Int{depositor: big.NewInt(10_000)}); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	agreement, err := node.CreateAgreement(depositor, big.NewInt(1_000), beneficiary, "bafy", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := node.AddFunds(depositor, agreement.ID, big.NewInt(1_000)); err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if _, err := node.ApproveAgreement(beneficiary, agreement.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	now = agreement.DeadlineDate + 1
	if _, err := node.RaiseDispute(depositor, agreement.ID); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, err := node.RegisterArbitrator(depositor, agreement.ID, arbitrator, 20_000); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := node.RegisterArbitrator(beneficiary, agreement.ID, arbitrator, 20_000); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := node.ResolveDispute(arbitrator, agreement.ID, 250_000); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	view, err := projector.Agreement(ctx, agreement.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	dispute, err := node.GetDispute(depositor, agreement.ID)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if view.Status != escrow.StatusResolved.String() || view.Amount != "0" {
		t.Fatalf("unexpected view status %s amount %s", view.Status, view.Amount)
	}
	if view.FeeAmount != dispute.FeeAmount.String() || view.RefundAmount != dispute.RefundAmount.String() ||
		view.ReleasedAmount != dispute.ReleasedAmount.String() {
		t.Fatalf("split mismatch: view %+v dispute %+v", view, dispute)
	}
	if !view.Agreed || view.FeePercentage != 20_000 || view.DetailsHash != "bafy" {
		t.Fatalf("dispute fields not projected: %+v", view)
	}

	if _, err := node.WithdrawFunds(arbitrator, agreement.ID); err != nil {
		t.Fatalf("withdraw fee: %v", err)
	}
	view, err = projector.Agreement(ctx, agreement.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.FeeAmount != "0" || view.RefundAmount != dispute.RefundAmount.String() {
		t.Fatalf("withdrawal not folded into view: %+v", view)
	}
	withdrawals, err := projector.Withdrawals(ctx, agreement.ID)
	if err != nil || len(withdrawals) != 1 || withdrawals[0].Role != "arbitrator" {
		t.Fatalf("withdrawals = %+v, %v", withdrawals, err)
	}

	byParty, err := projector.AgreementsByParty(ctx, view.Depositor)
	if err != nil || len(byParty) != 1 {
		t.Fatalf("by party = %+v, %v", byParty, err)
	}
}

func TestProjectorPoolMembership(t *testing.T) {
	projector := setupProjector(t)
	ctx := context.Background()

	events := []*types.Event{
		escrow.NewPoolEvent(escrow.EventTypePoolAdded, [20]byte{0x0C}, 1),
		escrow.NewPoolEvent(escrow.EventTypePoolAdded, [20]byte{0x0D}, 2),
		escrow.NewPoolEvent(escrow.EventTypePoolRemoved, [20]byte{0x0C}, 1),
	}
	for _, evt := range events {
		if err := projector.Apply(ctx, evt); err != nil {
			t.Fatalf("apply %s: %v", evt.Type, err)
		}
	}
	members, err := projector.PoolMembers(ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if len(members) != 1 || members[0].Address != events[1].Attr("arbitrator") {
		t.Fatalf("unexpected pool %+v", members)
	}
}

func TestProjectorRejectsMalformedEvents(t *testing.T) {
	projector := setupProjector(t)
	ctx := context.Background()

	cases := []*types.Event{
		{Type: escrow.EventTypeAgreementCreated, Attributes: map[string]string{}},
		{Type: escrow.EventTypeAgreementCreated, Attributes: map[string]string{"id": "1", "status": "bogus"}},
		{Type: escrow.EventTypeAgreementFunded, Attributes: map[string]string{"id": "1", "amount": "ten"}},
		{Type: escrow.EventTypeArbitratorProposed, Attributes: map[string]string{"id": "1", "agreed": "maybe"}},
	}
	for _, evt := range cases {
		if err := projector.Apply(ctx, evt); err == nil {
			t.Fatalf("expected %v to fail", evt.Attributes)
		}
	}
	if _, err := projector.Agreement(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("malformed events must not create views: %v", err)
	}
	if err := projector.Apply(ctx, &types.Event{Type: "unrelated"}); err != nil {
		t.Fatalf("unknown events are ignored: %v", err)
	}
}
