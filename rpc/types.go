package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"escrowd/native/escrow"
	"escrowd/services/indexer"
	"escrowd/storage/eventlog"
)

// escrowParams is the single parameter object accepted by every escrow_*
// method. Each method reads only the fields it needs.
type escrowParams struct {
	Caller           string  `json:"caller,omitempty"`
	ID               uint64  `json:"id,omitempty"`
	Value            string  `json:"value,omitempty"`
	Beneficiary      string  `json:"beneficiary,omitempty"`
	DetailsHash      string  `json:"detailsHash,omitempty"`
	Deadline         *int64  `json:"deadline,omitempty"`
	Arbitrator       string  `json:"arbitrator,omitempty"`
	FeePercentage    *uint32 `json:"feePercentage,omitempty"`
	RefundPercentage *uint32 `json:"refundPercentage,omitempty"`
	Address          string  `json:"address,omitempty"`
	After            int64   `json:"after,omitempty"`
	Limit            int     `json:"limit,omitempty"`
}

func decodeParams(raw []json.RawMessage) (*escrowParams, error) {
	params := &escrowParams{}
	switch len(raw) {
	case 0:
		return params, nil
	case 1:
	default:
		return nil, invalidParams("exactly one parameter object expected")
	}
	trimmed := bytes.TrimSpace(raw[0])
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return nil, invalidParams(err.Error())
	}
	return params, nil
}

func (p *escrowParams) requireID() (uint64, error) {
	if p.ID == 0 {
		return 0, invalidParams("id is required")
	}
	return p.ID, nil
}

func parseAddressParam(field, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, invalidParams(fmt.Sprintf("%s is required", field))
	}
	addr, err := escrow.ParseAddress(value)
	if err != nil {
		return [20]byte{}, invalidParams(fmt.Sprintf("%s: %v", field, err))
	}
	return addr, nil
}

// parseValue accepts a non-negative base-10 integer. An empty string is zero.
func parseValue(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("value %q is not a base-10 integer", value))
	}
	if amount.Sign() < 0 {
		return nil, invalidParams("value must not be negative")
	}
	return amount, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type agreementJSON struct {
	ID           uint64 `json:"id"`
	Status       string `json:"status"`
	Amount       string `json:"amount"`
	Depositor    string `json:"depositor"`
	Beneficiary  string `json:"beneficiary"`
	StartDate    int64  `json:"startDate"`
	DeadlineDate int64  `json:"deadlineDate"`
	DetailsHash  string `json:"detailsHash"`
}

func formatAgreement(a *escrow.Agreement) agreementJSON {
	return agreementJSON{
		ID:           a.ID,
		Status:       a.Status.String(),
		Amount:       formatAmount(a.Amount),
		Depositor:    escrow.FormatAddress(a.Depositor),
		Beneficiary:  escrow.FormatAddress(a.Beneficiary),
		StartDate:    a.StartDate,
		DeadlineDate: a.DeadlineDate,
		DetailsHash:  a.DetailsHash,
	}
}

type disputeJSON struct {
	ID             uint64  `json:"id"`
	Arbitrator     *string `json:"arbitrator,omitempty"`
	FeePercentage  uint32  `json:"feePercentage"`
	Agreed         bool    `json:"agreed"`
	PoolAssigned   bool    `json:"poolAssigned"`
	StartDate      int64   `json:"startDate"`
	AssignedDate   int64   `json:"assignedDate,omitempty"`
	RefundAmount   string  `json:"refundAmount"`
	FeeAmount      string  `json:"feeAmount"`
	ReleasedAmount string  `json:"releasedAmount"`
}

func formatDispute(id uint64, d *escrow.Dispute) disputeJSON {
	out := disputeJSON{
		ID:             id,
		FeePercentage:  d.FeePercentage,
		Agreed:         d.Agreed,
		PoolAssigned:   d.PoolAssigned(),
		StartDate:      d.StartDate,
		AssignedDate:   d.AssignedDate,
		RefundAmount:   formatAmount(d.RefundAmount),
		FeeAmount:      formatAmount(d.FeeAmount),
		ReleasedAmount: formatAmount(d.ReleasedAmount),
	}
	if d.HasArbitrator() {
		arb := escrow.FormatAddress(d.Arbitrator)
		out.Arbitrator = &arb
	}
	return out
}

type detailsJSON struct {
	DetailsHash  string `json:"detailsHash"`
	Amount       string `json:"amount"`
	StartDate    int64  `json:"startDate"`
	DeadlineDate int64  `json:"deadlineDate"`
}

type paramsJSON struct {
	DefaultDeadline            int64  `json:"defaultDeadline"`
	ReleaseGracePeriod         int64  `json:"releaseGracePeriod"`
	AgreePeriod                int64  `json:"agreePeriod"`
	ResolvePeriod              int64  `json:"resolvePeriod"`
	DefaultFeePercentage       uint32 `json:"defaultFeePercentage"`
	UnresolvedRefundPercentage uint32 `json:"unresolvedRefundPercentage"`
	PercentageScale            uint32 `json:"percentageScale"`
}

type eventJSON struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func formatEntries(entries []eventlog.Entry) []eventJSON {
	out := make([]eventJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, eventJSON{
			Sequence:   entry.Sequence,
			Type:       entry.Type,
			Attributes: entry.Payload,
			CreatedAt:  entry.CreatedAt.Unix(),
		})
	}
	return out
}

type agreementViewJSON struct {
	ID           uint64 `json:"id"`
	Status       string `json:"status"`
	Amount       string `json:"amount"`
	Depositor    string `json:"depositor"`
	Beneficiary  string `json:"beneficiary"`
	DeadlineDate int64  `json:"deadlineDate"`
	Arbitrator   string `json:"arbitrator,omitempty"`
	LastEvent    string `json:"lastEvent"`
}

func formatViews(views []indexer.AgreementView) []agreementViewJSON {
	out := make([]agreementViewJSON, 0, len(views))
	for _, view := range views {
		entry := agreementViewJSON{
			ID:           view.ID,
			Status:       view.Status,
			Amount:       view.Amount,
			Depositor:    withPrefix(view.Depositor),
			Beneficiary:  withPrefix(view.Beneficiary),
			DeadlineDate: view.DeadlineDate,
			LastEvent:    view.LastEvent,
		}
		if view.Arbitrator != "" {
			entry.Arbitrator = withPrefix(view.Arbitrator)
		}
		out = append(out, entry)
	}
	return out
}

type withdrawalJSON struct {
	Role      string `json:"role"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	CreatedAt int64  `json:"createdAt"`
}

func formatWithdrawals(rows []indexer.WithdrawalView) []withdrawalJSON {
	out := make([]withdrawalJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, withdrawalJSON{
			Role:      row.Role,
			Recipient: withPrefix(row.Recipient),
			Amount:    row.Amount,
			CreatedAt: row.CreatedAt.Unix(),
		})
	}
	return out
}

func withPrefix(hexAddr string) string {
	if hexAddr == "" || strings.HasPrefix(hexAddr, "0x") {
		return hexAddr
	}
	return "0x" + hexAddr
}
