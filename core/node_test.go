package core

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/native/common"
	"escrowd/native/escrow"
	"escrowd/storage"
)

const day = int64(24 * 60 * 60)

type recordingSink struct {
	mu     sync.Mutex
	events []*types.Event
}

func (r *recordingSink) Emit(evt events.Event) {
	payload, ok := evt.(*types.Event)
	if !ok {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, payload)
	r.mu.Unlock()
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Type
	}
	return out
}

type flakyDB struct {
	storage.Database
	failWrites bool
}

func (f *flakyDB) Write(batch *storage.Batch) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.Database.Write(batch)
}

type nodeEnv struct {
	t           *testing.T
	node        *Node
	db          *flakyDB
	sink        *recordingSink
	now         int64
	depositor   [20]byte
	beneficiary [20]byte
	owner       [20]byte
}

func newNodeEnv(t *testing.T, mutate func(*Config)) *nodeEnv {
	t.Helper()
	env := &nodeEnv{
		t:           t,
		db:          &flakyDB{Database: storage.NewMemDB()},
		sink:        &recordingSink{},
		now:         1_700_000_000,
		depositor:   [20]byte{0x01},
		beneficiary: [20]byte{0x02},
		owner:       [20]byte{0x0A},
	}
	cfg := Config{
		Owner:   env.owner,
		Emitter: env.sink,
		Clock:   func() int64 { return env.now },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	node, err := NewNode(env.db, cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	env.node = node
	if err := node.ApplyGenesis(map[[20]byte]*big.Int{env.depositor: big.NewInt(1_000_000)}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return env
}

func (env *nodeEnv) balance(addr [20]byte) int64 {
	env.t.Helper()
	bal, err := env.node.Balance(addr)
	if err != nil {
		env.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestNewNodeRequiresDatabase(t *testing.T) {
	if _, err := NewNode(nil, Config{}); !errors.Is(err, ErrNilDatabase) {
		t.Fatalf("expected ErrNilDatabase, got %v", err)
	}
	bad := escrow.DefaultParams()
	bad.DefaultFeePercentage = escrow.PercentageScale + 1
	if _, err := NewNode(storage.NewMemDB(), Config{Params: &bad}); !errors.Is(err, escrow.ErrPercentageOutOfRange) {
		t.Fatalf("expected invalid params to fail, got %v", err)
	}
}

func TestApplyGenesisIsIdempotent(t *testing.T) {
	env := newNodeEnv(t, nil)
	if err := env.node.ApplyGenesis(map[[20]byte]*big.Int{env.depositor: big.NewInt(5)}); err != nil {
		t.Fatalf("second genesis: %v", err)
	}
	if got := env.balance(env.depositor); got != 1_000_000 {
		t.Fatalf("genesis minted twice: balance %d", got)
	}
}

func TestNodeSettlesAgreementEndToEnd(t *testing.T) {
	env := newNodeEnv(t, nil)
	n := env.node

	agreement, err := n.CreateAgreement(env.depositor, big.NewInt(1_000), env.beneficiary, "bafy-doc", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if agreement.ID != 1 {
		t.Fatalf("expected first id 1, got %d", agreement.ID)
	}
	if _, err := n.AddFunds(env.depositor, agreement.ID, big.NewInt(500)); err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if _, err := n.ApproveAgreement(env.beneficiary, agreement.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := n.ReleaseFunds(env.depositor, agreement.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	balance, err := n.GetWithdrawBalance(env.beneficiary, agreement.ID)
	if err != nil || balance.Int64() != 1_500 {
		t.Fatalf("withdraw balance = %v, %v", balance, err)
	}
	paid, err := n.WithdrawFunds(env.beneficiary, agreement.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Int64() != 1_500 {
		t.Fatalf("paid %s, want 1500", paid)
	}
	if got := env.balance(env.beneficiary); got != 1_500 {
		t.Fatalf("beneficiary balance %d", got)
	}
	if got := env.balance(n.VaultAddress()); got != 0 {
		t.Fatalf("vault balance %d", got)
	}

	want := []string{
		escrow.EventTypeAgreementCreated,
		escrow.EventTypeAgreementFunded,
		escrow.EventTypeAgreementApproved,
		escrow.EventTypeAgreementClosed,
		escrow.EventTypeFundsWithdrawn,
	}
	got := env.sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	last, err := n.LastAgreementID()
	if err != nil || last != 1 {
		t.Fatalf("last id = %d, %v", last, err)
	}
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	env := newNodeEnv(t, nil)
	n := env.node
	agreement, err := n.CreateAgreement(env.depositor, big.NewInt(100), env.beneficiary, "doc", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := len(env.sink.types())

	if _, err := n.ApproveAgreement(env.depositor, agreement.ID); !errors.Is(err, escrow.ErrNotBeneficiary) {
		t.Fatalf("expected ErrNotBeneficiary, got %v", err)
	}
	if _, err := n.AddFunds(env.depositor, agreement.ID, big.NewInt(10_000_000)); !errors.Is(err, escrow.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := len(env.sink.types()); got != before {
		t.Fatalf("failed calls emitted %d events", got-before)
	}
	stored, err := n.GetAgreement(agreement.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Amount.Int64() != 100 || stored.Status != escrow.StatusFunded {
		t.Fatalf("failed call mutated agreement: %+v", stored)
	}
	if n.manager.Pending() != 0 {
		t.Fatalf("overlay not discarded")
	}
}

func TestCommitFailureDiscardsCall(t *testing.T) {
	env := newNodeEnv(t, nil)
	n := env.node
	before := len(env.sink.types())

	env.db.failWrites = true
	if _, err := n.CreateAgreement(env.depositor, big.NewInt(100), env.beneficiary, "doc", nil); err == nil {
		t.Fatalf("expected commit failure")
	}
	env.db.failWrites = false

	if got := len(env.sink.types()); got != before {
		t.Fatalf("uncommitted call emitted events")
	}
	if got := env.balance(env.depositor); got != 1_000_000 {
		t.Fatalf("uncommitted transfer applied: %d", got)
	}
	if _, err := n.GetAgreementStatus(1); !errors.Is(err, escrow.ErrAgreementNotFound) {
		t.Fatalf("uncommitted agreement visible: %v", err)
	}
	agreement, err := n.CreateAgreement(env.depositor, big.NewInt(100), env.beneficiary, "doc", nil)
	if err != nil {
		t.Fatalf("create after failure: %v", err)
	}
	if agreement.ID != 1 {
		t.Fatalf("discarded id must be reissued, got %d", agreement.ID)
	}
}

func TestNodeDisputeLadderWithPool(t *testing.T) {
	env := newNodeEnv(t, nil)
	n := env.node
	arbitrator := [20]byte{0x0C}

	if err := n.AddArbitrator(env.depositor, arbitrator); !errors.Is(err, escrow.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := n.AddArbitrator(env.owner, arbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}
	agreement, err := n.CreateAgreement(env.depositor, big.NewInt(1_000), env.beneficiary, "doc", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := n.ApproveAgreement(env.beneficiary, agreement.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	env.now = agreement.DeadlineDate + 1
	if _, err := n.RaiseDispute(env.depositor, agreement.ID); err != nil {
		t.Fatalf("raise: %v", err)
	}
	env.now += 2 * day
	dispute, err := n.AssignArbitrator(env.beneficiary, agreement.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if dispute.Arbitrator != arbitrator {
		t.Fatalf("assigned %x", dispute.Arbitrator)
	}
	if count, _ := n.AssignedCount(arbitrator); count != 1 {
		t.Fatalf("assigned count %d", count)
	}
	if err := n.RemoveArbitrator(env.owner, arbitrator); !errors.Is(err, escrow.ErrArbitratorHasAgreements) {
		t.Fatalf("expected ErrArbitratorHasAgreements, got %v", err)
	}

	env.now += 2 * day
	dispute, err = n.ForceSplit(env.depositor, agreement.ID)
	if err != nil {
		t.Fatalf("force split: %v", err)
	}
	if dispute.RefundAmount.Int64() != 500 || dispute.ReleasedAmount.Int64() != 500 || dispute.FeeAmount.Sign() != 0 {
		t.Fatalf("unexpected split %+v", dispute)
	}
	if err := n.RemoveArbitrator(env.owner, arbitrator); err != nil {
		t.Fatalf("remove: %v", err)
	}
	members, err := n.PoolMembers()
	if err != nil || len(members) != 0 {
		t.Fatalf("pool = %v, %v", members, err)
	}
	if _, err := n.GetDispute(env.depositor, agreement.ID); err != nil {
		t.Fatalf("get dispute: %v", err)
	}
}

func TestNodeClockNeverRunsBackwards(t *testing.T) {
	env := newNodeEnv(t, nil)
	n := env.node
	agreement, err := n.CreateAgreement(env.depositor, big.NewInt(10), env.beneficiary, "doc", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := n.ApproveAgreement(env.beneficiary, agreement.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	env.now = agreement.DeadlineDate + 1
	if _, err := n.RaiseDispute(env.depositor, agreement.ID); err != nil {
		t.Fatalf("raise: %v", err)
	}
	env.now = agreement.StartDate
	dispute, err := n.GetDispute(env.depositor, agreement.ID)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if got := n.now(); got != dispute.StartDate {
		t.Fatalf("clock went backwards: %d < %d", got, dispute.StartDate)
	}
}

func TestNodeQuota(t *testing.T) {
	env := newNodeEnv(t, func(cfg *Config) {
		cfg.Quota = common.Quota{MaxRequestsPerMin: 2, MaxValuePerEpoch: 150}
	})
	n := env.node

	agreement, err := n.CreateAgreement(env.depositor, big.NewInt(100), env.beneficiary, "doc", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := n.AddFunds(env.depositor, agreement.ID, big.NewInt(60)); !errors.Is(err, common.ErrQuotaValueCapExceeded) {
		t.Fatalf("expected value cap, got %v", err)
	}
	if _, err := n.AddFunds(env.depositor, agreement.ID, big.NewInt(50)); err != nil {
		t.Fatalf("add funds within cap: %v", err)
	}
	if _, err := n.CancelAgreement(env.depositor, agreement.ID); !errors.Is(err, common.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected request cap, got %v", err)
	}
	if _, err := n.ApproveAgreement(env.beneficiary, agreement.ID); err != nil {
		t.Fatalf("other callers keep their own quota: %v", err)
	}

	env.now += 60
	if _, err := n.RefundAgreement(env.beneficiary, agreement.ID); err != nil {
		t.Fatalf("refund in next epoch: %v", err)
	}
}

func TestNodePausedRejectsMutations(t *testing.T) {
	env := newNodeEnv(t, func(cfg *Config) {
		cfg.Pauses = common.StaticPauses{escrow.ModuleName: true}
	})
	_, err := env.node.CreateAgreement(env.depositor, big.NewInt(1), env.beneficiary, "doc", nil)
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := env.node.Balance(env.depositor); err != nil {
		t.Fatalf("queries must keep working: %v", err)
	}
}
