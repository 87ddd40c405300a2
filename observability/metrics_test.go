package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"escrowd/core/types"
)

func TestEscrowMetricsRecordOperations(t *testing.T) {
	m := Escrow()
	if Escrow() != m {
		t.Fatalf("expected singleton registry")
	}

	before := testutil.ToFloat64(m.operations.WithLabelValues("create_agreement", "ok"))
	m.ObserveOperation("create_agreement", "", 5*time.Millisecond)
	m.ObserveOperation("create_agreement", "invalid", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("create_agreement", "ok")); got != before+1 {
		t.Fatalf("ok counter = %v, want %v", got, before+1)
	}

	m.RecordWithdrawal("beneficiary", big.NewInt(250))
	m.RecordWithdrawal("beneficiary", big.NewInt(0))
	if got := testutil.ToFloat64(m.withdrawn.WithLabelValues("beneficiary")); got < 250 {
		t.Fatalf("withdrawn counter = %v", got)
	}

	m.SetPoolSize(3)
	if got := testutil.ToFloat64(m.poolSize); got != 3 {
		t.Fatalf("pool size = %v", got)
	}

	failed := testutil.ToFloat64(m.commits.WithLabelValues("error"))
	m.RecordCommit(errors.New("disk full"))
	if got := testutil.ToFloat64(m.commits.WithLabelValues("error")); got != failed+1 {
		t.Fatalf("commit error counter = %v", got)
	}

	var nilMetrics *EscrowMetrics
	nilMetrics.ObserveOperation("x", "ok", 0)
	nilMetrics.RecordCommit(nil)
}

func TestEventCounter(t *testing.T) {
	counter := EventCounter{}
	before := testutil.ToFloat64(Events().emitted.WithLabelValues("escrow.pool.added"))
	counter.Emit(&types.Event{Type: "Escrow.Pool.Added"})
	counter.Emit(nil)
	if got := testutil.ToFloat64(Events().emitted.WithLabelValues("escrow.pool.added")); got != before+1 {
		t.Fatalf("event counter = %v, want %v", got, before+1)
	}
}

func TestBigToFloatSaturates(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	if got := bigToFloat(huge); got <= 0 {
		t.Fatalf("expected saturated positive float, got %v", got)
	}
}
