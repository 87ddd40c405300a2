package rpc

import (
	"log/slog"
	"net/http"

	"escrowd/native/escrow"
	"escrowd/rpc/middleware"
)

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type callFunc func(r *http.Request, params *escrowParams) (interface{}, error)

func (s *Server) registerMethods() map[string]methodHandler {
	methods := map[string]callFunc{
		"escrow_createAgreement":    s.createAgreement,
		"escrow_addFunds":           s.addFunds,
		"escrow_cancelAgreement":    s.agreementOp((*coreNode).CancelAgreement),
		"escrow_approveAgreement":   s.agreementOp((*coreNode).ApproveAgreement),
		"escrow_rejectAgreement":    s.agreementOp((*coreNode).RejectAgreement),
		"escrow_refundAgreement":    s.agreementOp((*coreNode).RefundAgreement),
		"escrow_releaseFunds":       s.agreementOp((*coreNode).ReleaseFunds),
		"escrow_raiseDispute":       s.agreementOp((*coreNode).RaiseDispute),
		"escrow_registerArbitrator": s.registerArbitrator,
		"escrow_assignArbitrator":   s.disputeOp((*coreNode).AssignArbitrator),
		"escrow_resolveDispute":     s.resolveDispute,
		"escrow_forceSplit":         s.disputeOp((*coreNode).ForceSplit),
		"escrow_withdrawFunds":      s.withdrawFunds,
		"escrow_addArbitrator":      s.poolOp((*coreNode).AddArbitrator),
		"escrow_removeArbitrator":   s.poolOp((*coreNode).RemoveArbitrator),

		"escrow_getAgreementStatus":  s.getAgreementStatus,
		"escrow_getAgreementDetails": s.getAgreementDetails,
		"escrow_getWithdrawBalance":  s.getWithdrawBalance,
		"escrow_getAgreement":        s.getAgreement,
		"escrow_getDispute":          s.getDispute,
		"escrow_getBalance":          s.getBalance,
		"escrow_poolMembers":         s.poolMembers,
		"escrow_assignedCount":       s.assignedCount,
		"escrow_vaultAddress":        s.vaultAddress,
		"escrow_owner":               s.owner,
		"escrow_params":              s.params,
		"escrow_getEvents":           s.getEvents,
		"escrow_listAgreements":      s.listAgreements,
		"escrow_getWithdrawals":      s.getWithdrawals,
	}
	out := make(map[string]methodHandler, len(methods))
	for name, fn := range methods {
		out[name] = s.wrap(fn)
	}
	return out
}

func (s *Server) wrap(fn callFunc) methodHandler {
	return func(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
		params, err := decodeParams(req.Params)
		if err != nil {
			writeEscrowError(w, req.ID, err)
			return
		}
		result, err := fn(r, params)
		if err != nil {
			if isInternal(err) {
				s.logger.Error("rpc call failed",
					slog.String("method", req.Method),
					slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()))
			}
			writeEscrowError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, result)
	}
}

// resolveCaller returns the identity the call acts for. With auth enabled it
// is the token subject and a conflicting caller param is rejected; otherwise
// the caller param is trusted.
func (s *Server) resolveCaller(r *http.Request, params *escrowParams) ([20]byte, error) {
	if s.auth.Enabled() {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok {
			return [20]byte{}, errCallerRequired
		}
		if params.Caller != "" {
			claimed, err := parseAddressParam("caller", params.Caller)
			if err != nil {
				return [20]byte{}, err
			}
			if claimed != caller {
				return [20]byte{}, errCallerRequired
			}
		}
		return caller, nil
	}
	if params.Caller == "" {
		return [20]byte{}, errCallerRequired
	}
	return parseAddressParam("caller", params.Caller)
}

func (s *Server) createAgreement(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	beneficiary, err := parseAddressParam("beneficiary", params.Beneficiary)
	if err != nil {
		return nil, err
	}
	value, err := parseValue(params.Value)
	if err != nil {
		return nil, err
	}
	agreement, err := s.node.CreateAgreement(caller, value, beneficiary, params.DetailsHash, params.Deadline)
	if err != nil {
		return nil, err
	}
	return formatAgreement(agreement), nil
}

func (s *Server) addFunds(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	value, err := parseValue(params.Value)
	if err != nil {
		return nil, err
	}
	agreement, err := s.node.AddFunds(caller, id, value)
	if err != nil {
		return nil, err
	}
	return formatAgreement(agreement), nil
}

func (s *Server) agreementOp(op func(*coreNode, [20]byte, uint64) (*escrow.Agreement, error)) callFunc {
	return func(r *http.Request, params *escrowParams) (interface{}, error) {
		caller, err := s.resolveCaller(r, params)
		if err != nil {
			return nil, err
		}
		id, err := params.requireID()
		if err != nil {
			return nil, err
		}
		agreement, err := op(s.node, caller, id)
		if err != nil {
			return nil, err
		}
		return formatAgreement(agreement), nil
	}
}

func (s *Server) disputeOp(op func(*coreNode, [20]byte, uint64) (*escrow.Dispute, error)) callFunc {
	return func(r *http.Request, params *escrowParams) (interface{}, error) {
		caller, err := s.resolveCaller(r, params)
		if err != nil {
			return nil, err
		}
		id, err := params.requireID()
		if err != nil {
			return nil, err
		}
		dispute, err := op(s.node, caller, id)
		if err != nil {
			return nil, err
		}
		return formatDispute(id, dispute), nil
	}
}

func (s *Server) poolOp(op func(*coreNode, [20]byte, [20]byte) error) callFunc {
	return func(r *http.Request, params *escrowParams) (interface{}, error) {
		caller, err := s.resolveCaller(r, params)
		if err != nil {
			return nil, err
		}
		arbitrator, err := parseAddressParam("arbitrator", params.Arbitrator)
		if err != nil {
			return nil, err
		}
		if err := op(s.node, caller, arbitrator); err != nil {
			return nil, err
		}
		members, err := s.node.PoolMembers()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"members": formatAddresses(members)}, nil
	}
}

func (s *Server) registerArbitrator(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	arbitrator, err := parseAddressParam("arbitrator", params.Arbitrator)
	if err != nil {
		return nil, err
	}
	if params.FeePercentage == nil {
		return nil, invalidParams("feePercentage is required")
	}
	dispute, err := s.node.RegisterArbitrator(caller, id, arbitrator, *params.FeePercentage)
	if err != nil {
		return nil, err
	}
	return formatDispute(id, dispute), nil
}

func (s *Server) resolveDispute(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	var dispute *escrow.Dispute
	if params.RefundPercentage == nil {
		// Without a percentage a party asks for the fixed split after the
		// assigned arbitrator stayed idle; escrow_forceSplit is an alias.
		dispute, err = s.node.ForceSplit(caller, id)
	} else {
		dispute, err = s.node.ResolveDispute(caller, id, *params.RefundPercentage)
	}
	if err != nil {
		return nil, err
	}
	return formatDispute(id, dispute), nil
}

func (s *Server) withdrawFunds(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	amount, err := s.node.WithdrawFunds(caller, id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"amount": formatAmount(amount)}, nil
}

func formatAddresses(addrs [][20]byte) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, escrow.FormatAddress(addr))
	}
	return out
}
