package escrow

// AddArbitrator appends an identity to the arbitrator pool. Only the owner
// may manage the pool.
func (e *Engine) AddArbitrator(caller, arbitrator [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if arbitrator == ([20]byte{}) {
		return ErrZeroArbitrator
	}
	members, err := e.state.PoolMembers()
	if err != nil {
		return err
	}
	if indexOf(members, arbitrator) >= 0 {
		return ErrAlreadyInPool
	}
	members = append(members, arbitrator)
	if err := e.state.PoolPutMembers(members); err != nil {
		return err
	}
	e.emit(NewPoolEvent(EventTypePoolAdded, arbitrator, len(members)))
	return nil
}

// RemoveArbitrator drops an identity from the pool. Members that still hold
// pool-assigned disputes cannot be removed.
func (e *Engine) RemoveArbitrator(caller, arbitrator [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	members, err := e.state.PoolMembers()
	if err != nil {
		return err
	}
	idx := indexOf(members, arbitrator)
	if idx < 0 {
		return ErrNotInPool
	}
	count, err := e.state.PoolAssignments(arbitrator)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrArbitratorHasAgreements
	}
	remaining := make([][20]byte, 0, len(members)-1)
	remaining = append(remaining, members[:idx]...)
	remaining = append(remaining, members[idx+1:]...)
	if err := e.state.PoolPutMembers(remaining); err != nil {
		return err
	}
	e.emit(NewPoolEvent(EventTypePoolRemoved, arbitrator, len(remaining)))
	return nil
}

// PoolMembers returns the pool in insertion order.
func (e *Engine) PoolMembers() ([][20]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.PoolMembers()
}

// AssignedCount returns how many unresolved disputes the identity currently
// holds through pool assignment.
func (e *Engine) AssignedCount(arbitrator [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.PoolAssignments(arbitrator)
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrNotOwner
	}
	return nil
}

func indexOf(members [][20]byte, addr [20]byte) int {
	for i, member := range members {
		if member == addr {
			return i
		}
	}
	return -1
}
