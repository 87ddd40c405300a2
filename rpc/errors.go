package rpc

import (
	"errors"
	"net/http"

	"escrowd/native/common"
	"escrowd/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowTooEarly      = -32026
	codeEscrowAccounting    = -32027
	codeEscrowPaused        = -32028
)

var errCallerRequired = errors.New("caller identity required")

type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func invalidParams(msg string) error { return &paramError{msg: msg} }

func isQuotaError(err error) bool {
	return errors.Is(err, common.ErrQuotaRequestsExceeded) || errors.Is(err, common.ErrQuotaValueCapExceeded) ||
		errors.Is(err, common.ErrQuotaCounterOverflow)
}

// isInternal reports errors that are neither client mistakes nor engine
// rejections.
func isInternal(err error) bool {
	var pErr *paramError
	if errors.As(err, &pErr) || errors.Is(err, errCallerRequired) || isQuotaError(err) {
		return false
	}
	return escrow.Classify(err) == escrow.KindInternal
}

type errorData struct {
	Kind      string        `json:"kind"`
	Retryable bool          `json:"retryable"`
	Detail    string        `json:"detail"`
	Mismatch  *mismatchJSON `json:"mismatch,omitempty"`
	Withdraw  *withdrawJSON `json:"withdraw,omitempty"`
}

type mismatchJSON struct {
	ExistingArbitrator string `json:"existingArbitrator"`
	ExistingFee        uint32 `json:"existingFeePercentage"`
	ProposedArbitrator string `json:"proposedArbitrator"`
	ProposedFee        uint32 `json:"proposedFeePercentage"`
}

type withdrawJSON struct {
	Caller string `json:"caller"`
	Status string `json:"status"`
}

// writeEscrowError maps engine and transport errors onto JSON-RPC codes. The
// data object carries the error kind so clients can decide whether to retry.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	var pErr *paramError
	if errors.As(err, &pErr) {
		writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", pErr.msg)
		return
	}
	if errors.Is(err, errCallerRequired) {
		writeError(w, http.StatusUnauthorized, id, codeUnauthorized, "unauthorized", err.Error())
		return
	}
	if isQuotaError(err) {
		writeError(w, http.StatusTooManyRequests, id, codeRateLimited, "quota_exceeded", err.Error())
		return
	}

	kind := escrow.Classify(err)
	data := &errorData{Kind: kind.String(), Retryable: kind.Retryable(), Detail: err.Error()}
	var mismatch *escrow.ArbitratorMismatchError
	if errors.As(err, &mismatch) {
		data.Mismatch = &mismatchJSON{
			ExistingArbitrator: escrow.FormatAddress(mismatch.ExistingArbitrator),
			ExistingFee:        mismatch.ExistingFee,
			ProposedArbitrator: escrow.FormatAddress(mismatch.ProposedArbitrator),
			ProposedFee:        mismatch.ProposedFee,
		}
	}
	var withdrawErr *escrow.WithdrawError
	if errors.As(err, &withdrawErr) {
		data.Withdraw = &withdrawJSON{
			Caller: escrow.FormatAddress(withdrawErr.Caller),
			Status: withdrawErr.Status.String(),
		}
	}

	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch kind {
	case escrow.KindInvalid:
		status, code, message = http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"
	case escrow.KindNotFound:
		status, code, message = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case escrow.KindAuthorization:
		status, code, message = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case escrow.KindState, escrow.KindConflict, escrow.KindPool:
		status, code, message = http.StatusConflict, codeEscrowConflict, "conflict"
	case escrow.KindTiming:
		status, code, message = http.StatusConflict, codeEscrowTooEarly, "too_early"
	case escrow.KindAccounting:
		status, code, message = http.StatusConflict, codeEscrowAccounting, "accounting"
	case escrow.KindPaused:
		status, code, message = http.StatusServiceUnavailable, codeEscrowPaused, "paused"
	default:
		// Internal details stay in the log.
		data.Detail = "internal error"
	}
	writeError(w, status, id, code, message, data)
}
