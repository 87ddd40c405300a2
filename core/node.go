package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"escrowd/core/events"
	escrowstate "escrowd/core/state"
	"escrowd/core/types"
	"escrowd/native/common"
	"escrowd/native/escrow"
	"escrowd/observability"
	"escrowd/observability/logging"
	"escrowd/storage"
)

// ErrNilDatabase is returned by NewNode when no storage backend is supplied.
var ErrNilDatabase = errors.New("core: database required")

var genesisMarker = []byte("genesis/applied")

// Config wires the node's collaborators. Zero values select defaults.
type Config struct {
	Owner    [20]byte
	Params   *escrow.Params
	Selector escrow.ArbitratorSelector
	Pauses   common.PauseView
	Quota    common.Quota
	Emitter  events.Emitter
	Logger   *slog.Logger
	Metrics  *observability.EscrowMetrics
	// Clock returns unix seconds. Defaults to wall time.
	Clock func() int64
}

// Node is the single sequential executor of the escrow engine. Every call
// holds the state lock from guard to commit, so calls are totally ordered and
// a failed call leaves no trace in storage or on the event stream.
type Node struct {
	stateMu sync.Mutex

	db      storage.Database
	manager *escrowstate.Manager
	engine  *escrow.Engine
	pending events.Buffer
	sink    events.Emitter

	logger  *slog.Logger
	metrics *observability.EscrowMetrics

	quota  common.Quota
	quotas map[[20]byte]common.QuotaNow

	clock   func() int64
	lastNow int64
}

// NewNode opens the escrow engine over db.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	n := &Node{
		db:      db,
		manager: escrowstate.NewManager(db),
		engine:  escrow.NewEngine(),
		sink:    cfg.Emitter,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		quota:   cfg.Quota,
		quotas:  make(map[[20]byte]common.QuotaNow),
		clock:   cfg.Clock,
	}
	if n.sink == nil {
		n.sink = events.NoopEmitter{}
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.clock == nil {
		n.clock = func() int64 { return time.Now().Unix() }
	}
	if cfg.Params != nil {
		if err := n.engine.SetParams(*cfg.Params); err != nil {
			return nil, err
		}
	}
	n.engine.SetState(n.manager)
	n.engine.SetOwner(cfg.Owner)
	n.engine.SetSelector(cfg.Selector)
	n.engine.SetPauses(cfg.Pauses)
	n.engine.SetEmitter(&n.pending)
	n.engine.SetNowFunc(n.now)

	members, err := n.manager.PoolMembers()
	if err != nil {
		return nil, fmt.Errorf("core: load pool: %w", err)
	}
	n.metrics.SetPoolSize(len(members))
	return n, nil
}

// now returns the engine clock, clamped so it never runs backwards.
func (n *Node) now() int64 {
	t := n.clock()
	if t < n.lastNow {
		return n.lastNow
	}
	n.lastNow = t
	return t
}

// ApplyGenesis credits the initial balances once. Later calls are no-ops so
// restarting with the same configuration does not mint twice.
func (n *Node) ApplyGenesis(allocations map[[20]byte]*big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	var applied bool
	if _, err := n.manager.KVGet(genesisMarker, &applied); err != nil {
		return fmt.Errorf("core: load genesis marker: %w", err)
	}
	if applied {
		return nil
	}
	for addr, amount := range allocations {
		if err := n.manager.Credit(addr, amount); err != nil {
			n.manager.Discard()
			return fmt.Errorf("core: genesis allocation: %w", err)
		}
	}
	if err := n.manager.KVPut(genesisMarker, true); err != nil {
		n.manager.Discard()
		return err
	}
	if err := n.manager.Commit(); err != nil {
		n.manager.Discard()
		return fmt.Errorf("core: commit genesis: %w", err)
	}
	n.logger.Info("genesis applied", slog.Int("accounts", len(allocations)))
	return nil
}

// execute runs one mutating engine call. State changes are committed and the
// buffered events flushed only when fn succeeds.
func (n *Node) execute(op string, caller [20]byte, value *big.Int, fn func(*escrow.Engine) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := time.Now()
	usage, err := n.checkQuota(caller, value)
	if err != nil {
		n.metrics.ObserveOperation(op, "throttled", time.Since(start))
		n.logger.Warn("escrow call throttled",
			slog.String("operation", op),
			logging.MaskAddress("caller", escrow.FormatAddress(caller)),
			slog.String("reason", err.Error()))
		return err
	}

	n.pending.Reset()
	err = fn(n.engine)
	if err == nil {
		err = n.manager.Commit()
		n.metrics.RecordCommit(err)
		if err != nil {
			err = fmt.Errorf("core: commit %s: %w", op, err)
		}
	}
	if err != nil {
		n.manager.Discard()
		n.pending.Reset()
		kind := escrow.Classify(err)
		n.metrics.ObserveOperation(op, kind.String(), time.Since(start))
		level := slog.LevelInfo
		if kind == escrow.KindInternal {
			level = slog.LevelError
		}
		n.logger.Log(context.Background(), level, "escrow call rejected",
			slog.String("operation", op),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
		return err
	}

	if n.quota.Enabled() {
		n.quotas[caller] = usage
	}
	flushed := n.pending.Flush(events.Fanout{events.EmitterFunc(n.observe), n.sink})
	n.metrics.ObserveOperation(op, "ok", time.Since(start))
	n.logger.Debug("escrow call committed",
		slog.String("operation", op),
		slog.Int("events", flushed))
	return nil
}

func (n *Node) checkQuota(caller [20]byte, value *big.Int) (common.QuotaNow, error) {
	if !n.quota.Enabled() {
		return common.QuotaNow{}, nil
	}
	var add uint64
	if value != nil && value.Sign() > 0 {
		add = math.MaxUint64
		if value.IsUint64() {
			add = value.Uint64()
		}
	}
	epoch := n.quota.Epoch(n.now())
	return common.CheckQuota(n.quota, epoch, n.quotas[caller], 1, add)
}

// observe updates gauges and counters from committed events.
func (n *Node) observe(evt events.Event) {
	payload, ok := evt.(*types.Event)
	if !ok || payload == nil {
		return
	}
	switch payload.Type {
	case escrow.EventTypeFundsWithdrawn:
		amount, ok := new(big.Int).SetString(payload.Attr("amount"), 10)
		if ok {
			n.metrics.RecordWithdrawal(payload.Attr("role"), amount)
		}
	case escrow.EventTypePoolAdded, escrow.EventTypePoolRemoved:
		var size int
		if _, err := fmt.Sscanf(payload.Attr("poolSize"), "%d", &size); err == nil {
			n.metrics.SetPoolSize(size)
		}
	}
}

// Close releases the underlying database.
func (n *Node) Close() error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.manager.Discard()
	return n.db.Close()
}
