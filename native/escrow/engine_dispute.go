package escrow

import "fmt"

// loadDisputed returns a disputed agreement together with its dispute record
// after checking the caller is a party and op is legal in the current status.
func (e *Engine) loadDisputed(caller [20]byte, id uint64, op Operation) (*Agreement, *Dispute, error) {
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, nil, err
	}
	if err := requireParty(agreement, caller); err != nil {
		return nil, nil, err
	}
	if _, err := transition(agreement, op); err != nil {
		return nil, nil, err
	}
	dispute, err := e.loadDispute(id)
	if err != nil {
		return nil, nil, err
	}
	if dispute == nil {
		return nil, nil, ErrNoDispute
	}
	return agreement, dispute, nil
}

// RegisterArbitrator drives the agree-on-arbitrator stage. The depositor
// proposes (arbitrator, fee); the beneficiary can only confirm the recorded
// proposal verbatim. Once the agree window has elapsed the call is redirected
// to AssignArbitrator before the proposal is validated, and the proposal is
// not recorded.
func (e *Engine) RegisterArbitrator(caller [20]byte, id uint64, arbitrator [20]byte, feePercentage uint32) (*Dispute, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, dispute, err := e.loadDisputed(caller, id, OpRegisterArbitrator)
	if err != nil {
		return nil, err
	}
	// A late proposal is discarded, so it is not validated either.
	if e.now() >= addSeconds(dispute.StartDate, e.params.AgreePeriod) {
		return e.AssignArbitrator(caller, id)
	}
	if arbitrator == ([20]byte{}) {
		return nil, ErrZeroArbitrator
	}
	if feePercentage > PercentageScale {
		return nil, fmt.Errorf("fee %d: %w", feePercentage, ErrPercentageOutOfRange)
	}
	if arbitrator == agreement.Depositor || arbitrator == agreement.Beneficiary {
		return nil, ErrArbitratorIsParty
	}

	if caller == agreement.Depositor {
		if dispute.Arbitrator == arbitrator && dispute.FeePercentage == feePercentage {
			return dispute.Clone(), nil
		}
		dispute.Arbitrator = arbitrator
		dispute.FeePercentage = feePercentage
		dispute.Agreed = false
	} else {
		if dispute.Arbitrator != arbitrator || dispute.FeePercentage != feePercentage {
			return nil, &ArbitratorMismatchError{
				ExistingArbitrator: dispute.Arbitrator,
				ExistingFee:        dispute.FeePercentage,
				ProposedArbitrator: arbitrator,
				ProposedFee:        feePercentage,
			}
		}
		if dispute.Agreed {
			return dispute.Clone(), nil
		}
		dispute.Agreed = true
	}
	if err := e.state.DisputePut(id, dispute); err != nil {
		return nil, err
	}
	e.emit(NewArbitratorProposedEvent(id, dispute))
	return dispute.Clone(), nil
}

// AssignArbitrator force-assigns an arbitrator from the pool. Without a
// mutual agreement it opens when the agree window closes; with one it only
// opens once the agreed arbitrator has also had the full resolve window.
func (e *Engine) AssignArbitrator(caller [20]byte, id uint64) (*Dispute, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, dispute, err := e.loadDisputed(caller, id, OpAssignArbitrator)
	if err != nil {
		return nil, err
	}
	if dispute.PoolAssigned() {
		return nil, ErrAlreadyAssigned
	}
	opensAt := addSeconds(dispute.StartDate, e.params.AgreePeriod)
	if dispute.Agreed {
		opensAt = addSeconds(opensAt, e.params.ResolvePeriod)
	}
	now := e.now()
	if now < opensAt {
		return nil, fmt.Errorf("%w: arbitrator assignment opens at %d", ErrTooEarly, opensAt)
	}
	members, err := e.state.PoolMembers()
	if err != nil {
		return nil, err
	}
	candidates := make([][20]byte, 0, len(members))
	for _, member := range members {
		if member == agreement.Depositor || member == agreement.Beneficiary {
			continue
		}
		candidates = append(candidates, member)
	}
	if len(candidates) == 0 {
		return nil, ErrPoolEmpty
	}
	idx, err := e.selector.Select(candidates, SelectionContext{AgreementID: id, Caller: caller, Now: now})
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(candidates) {
		return nil, fmt.Errorf("escrow: selector returned index %d for %d candidates", idx, len(candidates))
	}
	chosen := candidates[idx]
	count, err := e.state.PoolAssignments(chosen)
	if err != nil {
		return nil, err
	}
	dispute.Arbitrator = chosen
	dispute.FeePercentage = e.params.DefaultFeePercentage
	dispute.Agreed = true
	dispute.AssignedDate = now
	if err := e.state.PoolSetAssignments(chosen, count+1); err != nil {
		return nil, err
	}
	if err := e.state.DisputePut(id, dispute); err != nil {
		return nil, err
	}
	e.emit(NewArbitratorAssignedEvent(id, dispute))
	return dispute.Clone(), nil
}

// ResolveDispute records the agreed arbitrator's decision. refundPercentage
// is the share of the post-fee amount returned to the depositor.
func (e *Engine) ResolveDispute(caller [20]byte, id uint64, refundPercentage uint32) (*Dispute, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	dispute, err := e.loadDispute(id)
	if err != nil {
		return nil, err
	}
	if dispute == nil || !dispute.Agreed || caller != dispute.Arbitrator {
		return nil, ErrNotArbitrator
	}
	next, err := transition(agreement, OpResolveDispute)
	if err != nil {
		return nil, err
	}
	if refundPercentage > PercentageScale {
		return nil, fmt.Errorf("refund %d: %w", refundPercentage, ErrPercentageOutOfRange)
	}
	split, err := ComputeSplit(agreement.Amount, dispute.FeePercentage, refundPercentage)
	if err != nil {
		return nil, err
	}
	if err := e.settle(agreement, dispute, split, next); err != nil {
		return nil, err
	}
	e.emit(NewDisputeResolvedEvent(id, dispute, refundPercentage))
	return dispute.Clone(), nil
}

// ForceSplit settles a dispute whose pool arbitrator let the resolve window
// lapse. The arbitrator forfeits the fee and the amount is divided by the
// unresolved refund percentage.
func (e *Engine) ForceSplit(caller [20]byte, id uint64) (*Dispute, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, dispute, err := e.loadDisputed(caller, id, OpForceSplit)
	if err != nil {
		return nil, err
	}
	if !dispute.PoolAssigned() {
		return nil, ErrNoPoolArbitrator
	}
	opensAt := addSeconds(dispute.AssignedDate, e.params.ResolvePeriod)
	if e.now() < opensAt {
		return nil, fmt.Errorf("%w: forced split opens at %d", ErrTooEarly, opensAt)
	}
	pct := e.params.UnresolvedRefundPercentage
	split, err := ComputeForcedSplit(agreement.Amount, pct)
	if err != nil {
		return nil, err
	}
	if err := e.settle(agreement, dispute, split, StatusUnresolved); err != nil {
		return nil, err
	}
	e.emit(NewDisputeUnresolvedEvent(id, dispute, pct))
	return dispute.Clone(), nil
}

// settle moves the agreement amount into the dispute buckets, releases the
// pool assignment and persists both records.
func (e *Engine) settle(agreement *Agreement, dispute *Dispute, split Split, status Status) error {
	if split.Sum().Cmp(agreement.Amount) != 0 {
		return fmt.Errorf("escrow: split %s does not partition amount %s", split.Sum(), agreement.Amount)
	}
	if dispute.PoolAssigned() {
		count, err := e.state.PoolAssignments(dispute.Arbitrator)
		if err != nil {
			return err
		}
		if count > 0 {
			if err := e.state.PoolSetAssignments(dispute.Arbitrator, count-1); err != nil {
				return err
			}
		}
	}
	dispute.FeeAmount = split.Fee
	dispute.RefundAmount = split.Refund
	dispute.ReleasedAmount = split.Released
	agreement.Amount.SetInt64(0)
	agreement.Status = status
	if err := e.state.DisputePut(agreement.ID, dispute); err != nil {
		return err
	}
	return e.state.AgreementPut(agreement)
}
