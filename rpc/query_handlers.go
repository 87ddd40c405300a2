package rpc

import (
	"encoding/hex"
	"errors"
	"net/http"

	"escrowd/core"
	"escrowd/native/escrow"
	"escrowd/services/indexer"
)

type coreNode = core.Node

const defaultEventLimit = 100

var errSourceDisabled = errors.New("read source not configured")

func (s *Server) getAgreementStatus(_ *http.Request, params *escrowParams) (interface{}, error) {
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	status, err := s.node.GetAgreementStatus(id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": status.String()}, nil
}

func (s *Server) getAgreementDetails(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	details, err := s.node.GetAgreementDetails(caller, id)
	if err != nil {
		return nil, err
	}
	return detailsJSON{
		DetailsHash:  details.DetailsHash,
		Amount:       formatAmount(details.Amount),
		StartDate:    details.StartDate,
		DeadlineDate: details.DeadlineDate,
	}, nil
}

func (s *Server) getWithdrawBalance(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	amount, err := s.node.GetWithdrawBalance(caller, id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"amount": formatAmount(amount)}, nil
}

func (s *Server) getAgreement(_ *http.Request, params *escrowParams) (interface{}, error) {
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	agreement, err := s.node.GetAgreement(id)
	if err != nil {
		return nil, err
	}
	return formatAgreement(agreement), nil
}

func (s *Server) getDispute(r *http.Request, params *escrowParams) (interface{}, error) {
	caller, err := s.resolveCaller(r, params)
	if err != nil {
		return nil, err
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	dispute, err := s.node.GetDispute(caller, id)
	if err != nil {
		return nil, err
	}
	return formatDispute(id, dispute), nil
}

func (s *Server) getBalance(_ *http.Request, params *escrowParams) (interface{}, error) {
	addr, err := parseAddressParam("address", params.Address)
	if err != nil {
		return nil, err
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": escrow.FormatAddress(addr), "balance": formatAmount(balance)}, nil
}

func (s *Server) poolMembers(_ *http.Request, _ *escrowParams) (interface{}, error) {
	members, err := s.node.PoolMembers()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"members": formatAddresses(members)}, nil
}

func (s *Server) assignedCount(_ *http.Request, params *escrowParams) (interface{}, error) {
	addr, err := parseAddressParam("address", params.Address)
	if err != nil {
		return nil, err
	}
	count, err := s.node.AssignedCount(addr)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"count": count}, nil
}

func (s *Server) vaultAddress(_ *http.Request, _ *escrowParams) (interface{}, error) {
	return map[string]string{"address": escrow.FormatAddress(s.node.VaultAddress())}, nil
}

func (s *Server) owner(_ *http.Request, _ *escrowParams) (interface{}, error) {
	return map[string]string{"address": escrow.FormatAddress(s.node.Owner())}, nil
}

func (s *Server) params(_ *http.Request, _ *escrowParams) (interface{}, error) {
	p := s.node.Params()
	return paramsJSON{
		DefaultDeadline:            p.DefaultDeadline,
		ReleaseGracePeriod:         p.ReleaseGracePeriod,
		AgreePeriod:                p.AgreePeriod,
		ResolvePeriod:              p.ResolvePeriod,
		DefaultFeePercentage:       p.DefaultFeePercentage,
		UnresolvedRefundPercentage: p.UnresolvedRefundPercentage,
		PercentageScale:            escrow.PercentageScale,
	}, nil
}

// getEvents pages through the journal. With an id only that agreement's
// events are returned.
func (s *Server) getEvents(r *http.Request, params *escrowParams) (interface{}, error) {
	if s.journal == nil {
		return nil, invalidParams("event journal disabled: " + errSourceDisabled.Error())
	}
	if params.ID != 0 {
		entries, err := s.journal.ListByAgreement(r.Context(), params.ID)
		if err != nil {
			return nil, err
		}
		return formatEntries(entries), nil
	}
	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultEventLimit
	}
	entries, err := s.journal.List(r.Context(), params.After, limit)
	if err != nil {
		return nil, err
	}
	return formatEntries(entries), nil
}

func (s *Server) listAgreements(r *http.Request, params *escrowParams) (interface{}, error) {
	if s.indexer == nil {
		return nil, invalidParams("indexer disabled: " + errSourceDisabled.Error())
	}
	addr, err := parseAddressParam("address", params.Address)
	if err != nil {
		return nil, err
	}
	views, err := s.indexer.AgreementsByParty(r.Context(), hex.EncodeToString(addr[:]))
	if err != nil {
		return nil, err
	}
	return formatViews(views), nil
}

func (s *Server) getWithdrawals(r *http.Request, params *escrowParams) (interface{}, error) {
	if s.indexer == nil {
		return nil, invalidParams("indexer disabled: " + errSourceDisabled.Error())
	}
	id, err := params.requireID()
	if err != nil {
		return nil, err
	}
	if _, err := s.indexer.Agreement(r.Context(), id); err != nil {
		if errors.Is(err, indexer.ErrNotFound) {
			return nil, escrow.ErrAgreementNotFound
		}
		return nil, err
	}
	rows, err := s.indexer.Withdrawals(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return formatWithdrawals(rows), nil
}
