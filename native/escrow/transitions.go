package escrow

// Operation names every state-dependent entry point of the engine. The
// transition table below is the single source of truth for which operation
// is legal in which status.
type Operation uint8

const (
	OpAddFunds Operation = iota + 1
	OpCancel
	OpApprove
	OpReject
	OpRefund
	OpRelease
	OpRaiseDispute
	OpRegisterArbitrator
	OpAssignArbitrator
	OpResolveDispute
	OpForceSplit
)

var operationNames = map[Operation]string{
	OpAddFunds:           "addFunds",
	OpCancel:             "cancelAgreement",
	OpApprove:            "approveAgreement",
	OpReject:             "rejectAgreement",
	OpRefund:             "refundAgreement",
	OpRelease:            "releaseFunds",
	OpRaiseDispute:       "raiseDispute",
	OpRegisterArbitrator: "registerArbitrator",
	OpAssignArbitrator:   "assignArbitrator",
	OpResolveDispute:     "resolveDispute",
	OpForceSplit:         "forceSplit",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "unknown"
}

// Operations lists every operation in declaration order.
func Operations() []Operation {
	return []Operation{
		OpAddFunds, OpCancel, OpApprove, OpReject, OpRefund, OpRelease,
		OpRaiseDispute, OpRegisterArbitrator, OpAssignArbitrator, OpResolveDispute, OpForceSplit,
	}
}

// transitions maps (status, operation) to the resulting status. Pairs that are
// absent are rejected with a StatusError.
var transitions = map[Status]map[Operation]Status{
	StatusFunded: {
		OpAddFunds: StatusFunded,
		OpCancel:   StatusCanceled,
		OpApprove:  StatusActive,
		OpReject:   StatusRejected,
	},
	StatusActive: {
		OpRefund:       StatusRefunded,
		OpRelease:      StatusClosed,
		OpRaiseDispute: StatusDisputed,
	},
	StatusDisputed: {
		OpRegisterArbitrator: StatusDisputed,
		OpAssignArbitrator:   StatusDisputed,
		OpResolveDispute:     StatusResolved,
		OpForceSplit:         StatusUnresolved,
	},
}

// NextStatus returns the status reached by applying op in current, or a
// *StatusError when the pair is not part of the workflow.
func NextStatus(current Status, op Operation) (Status, error) {
	if next, ok := transitions[current][op]; ok {
		return next, nil
	}
	return current, &StatusError{Operation: op, Status: current}
}
