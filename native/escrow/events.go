package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeAgreementCreated   = "escrow.agreement.created"
	EventTypeAgreementFunded    = "escrow.agreement.funded"
	EventTypeAgreementCanceled  = "escrow.agreement.canceled"
	EventTypeAgreementApproved  = "escrow.agreement.approved"
	EventTypeAgreementRejected  = "escrow.agreement.rejected"
	EventTypeAgreementRefunded  = "escrow.agreement.refunded"
	EventTypeAgreementClosed    = "escrow.agreement.closed"
	EventTypeDisputeRaised      = "escrow.dispute.raised"
	EventTypeArbitratorProposed = "escrow.dispute.arbitrator_proposed"
	EventTypeArbitratorAssigned = "escrow.dispute.arbitrator_assigned"
	EventTypeDisputeResolved    = "escrow.dispute.resolved"
	EventTypeDisputeUnresolved  = "escrow.dispute.unresolved"
	EventTypeFundsWithdrawn     = "escrow.funds.withdrawn"
	EventTypePoolAdded          = "escrow.pool.added"
	EventTypePoolRemoved        = "escrow.pool.removed"
)

// NewAgreementEvent returns the canonical payload for an agreement lifecycle
// event. Every agreement event carries the full record so observers can
// rebuild state without querying the engine.
func NewAgreementEvent(eventType string, a *Agreement) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(a.ID, 10)
	attrs["status"] = a.Status.String()
	attrs["depositor"] = hexAddr(a.Depositor)
	attrs["beneficiary"] = hexAddr(a.Beneficiary)
	attrs["amount"] = cloneBigInt(a.Amount).String()
	attrs["startDate"] = strconv.FormatInt(a.StartDate, 10)
	attrs["deadlineDate"] = strconv.FormatInt(a.DeadlineDate, 10)
	attrs["detailsHash"] = a.DetailsHash
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewFundedEvent extends the agreement payload with the value just added.
func NewFundedEvent(a *Agreement, added *big.Int) *types.Event {
	evt := NewAgreementEvent(EventTypeAgreementFunded, a)
	evt.Attributes["added"] = cloneBigInt(added).String()
	return evt
}

// NewDisputeRaisedEvent emits the payload when the depositor raises a dispute.
func NewDisputeRaisedEvent(a *Agreement, d *Dispute) *types.Event {
	evt := NewAgreementEvent(EventTypeDisputeRaised, a)
	evt.Attributes["disputeStart"] = strconv.FormatInt(d.StartDate, 10)
	evt.Attributes["feePercentage"] = strconv.FormatUint(uint64(d.FeePercentage), 10)
	return evt
}

// NewArbitratorProposedEvent emits the payload when the depositor proposes or
// the beneficiary confirms an arbitrator.
func NewArbitratorProposedEvent(id uint64, d *Dispute) *types.Event {
	return newDisputeEvent(EventTypeArbitratorProposed, id, d)
}

// NewArbitratorAssignedEvent emits the payload when a pool arbitrator is
// force-assigned.
func NewArbitratorAssignedEvent(id uint64, d *Dispute) *types.Event {
	evt := newDisputeEvent(EventTypeArbitratorAssigned, id, d)
	evt.Attributes["assignedDate"] = strconv.FormatInt(d.AssignedDate, 10)
	return evt
}

// NewDisputeResolvedEvent emits the arbitrator's decision.
func NewDisputeResolvedEvent(id uint64, d *Dispute, refundPercentage uint32) *types.Event {
	evt := newDisputeEvent(EventTypeDisputeResolved, id, d)
	evt.Attributes["status"] = StatusResolved.String()
	evt.Attributes["refundPercentage"] = strconv.FormatUint(uint64(refundPercentage), 10)
	addSplitAttrs(evt, d)
	return evt
}

// NewDisputeUnresolvedEvent emits the forced split payload.
func NewDisputeUnresolvedEvent(id uint64, d *Dispute, refundPercentage uint32) *types.Event {
	evt := newDisputeEvent(EventTypeDisputeUnresolved, id, d)
	evt.Attributes["status"] = StatusUnresolved.String()
	evt.Attributes["refundPercentage"] = strconv.FormatUint(uint64(refundPercentage), 10)
	addSplitAttrs(evt, d)
	return evt
}

// NewWithdrawnEvent emits the payload of a successful withdrawal.
func NewWithdrawnEvent(id uint64, role Role, recipient [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"id":        strconv.FormatUint(id, 10),
		"role":      role.String(),
		"recipient": hexAddr(recipient),
		"amount":    cloneBigInt(amount).String(),
	}
	return &types.Event{Type: EventTypeFundsWithdrawn, Attributes: attrs}
}

// NewPoolEvent emits pool membership changes.
func NewPoolEvent(eventType string, arbitrator [20]byte, size int) *types.Event {
	attrs := map[string]string{
		"arbitrator": hexAddr(arbitrator),
		"poolSize":   strconv.Itoa(size),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newDisputeEvent(eventType string, id uint64, d *Dispute) *types.Event {
	attrs := map[string]string{"id": strconv.FormatUint(id, 10)}
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["arbitrator"] = hexAddr(d.Arbitrator)
	attrs["feePercentage"] = strconv.FormatUint(uint64(d.FeePercentage), 10)
	attrs["agreed"] = strconv.FormatBool(d.Agreed)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func addSplitAttrs(evt *types.Event, d *Dispute) {
	evt.Attributes["feeAmount"] = cloneBigInt(d.FeeAmount).String()
	evt.Attributes["refundAmount"] = cloneBigInt(d.RefundAmount).String()
	evt.Attributes["releasedAmount"] = cloneBigInt(d.ReleasedAmount).String()
}

func hexAddr(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}
