package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"vtvl/internal/chain"
	"vtvl/internal/events"
	"vtvl/internal/schedule"
	"vtvl/internal/workflow"
)

const (
	kindValidation   = "validation"
	kindInsufficient = "insufficient_funds"
	kindBusy         = "busy"
	kindPrecondition = "precondition"
	kindSubmission   = "submission"
	kindConfirmation = "confirmation"
	kindEventMissing = "event_not_found"
	kindNotPersisted = "not_persisted"
	kindInternal     = "internal"
)

type errorResponse struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	TxHash       string `json:"txHash,omitempty"`
	VaultAddress string `json:"vaultAddress,omitempty"`
}

// classify maps the workflow error taxonomy onto HTTP statuses.
func classify(err error) (int, string) {
	var verr *schedule.ValidationError
	var ierr *schedule.InsufficientFundsError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, kindValidation
	case errors.As(err, &ierr):
		return http.StatusUnprocessableEntity, kindInsufficient
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusConflict, kindBusy
	case errors.Is(err, workflow.ErrVaultExists),
		errors.Is(err, workflow.ErrNoVault),
		errors.Is(err, workflow.ErrNoFundToken):
		return http.StatusConflict, kindPrecondition
	case errors.Is(err, chain.ErrSubmission):
		return http.StatusBadGateway, kindSubmission
	case errors.Is(err, chain.ErrConfirmation):
		return http.StatusBadGateway, kindConfirmation
	case errors.Is(err, events.ErrEventNotFound):
		return http.StatusInternalServerError, kindEventMissing
	case errors.Is(err, workflow.ErrNotPersisted):
		return http.StatusInternalServerError, kindNotPersisted
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, txHash, vaultAddress string) string {
	status, kind := classify(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind, TxHash: txHash, VaultAddress: vaultAddress})
	return kind
}
