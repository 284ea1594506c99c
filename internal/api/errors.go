package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ammSettle/internal/claims"
	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
	"ammSettle/internal/settle"
	"ammSettle/internal/swap"
	"ammSettle/internal/transfer"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err, http.StatusInternalServerError), err.Error())
}

// writeReply answers a settlement call. A failed run still has a stored
// request, so its reply is returned with the status of the cause.
func writeReply(w http.ResponseWriter, reply model.Reply, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, reply)
		return
	}
	if reply.RequestID == 0 {
		writeErr(w, err)
		return
	}
	writeJSON(w, statusFor(err, http.StatusUnprocessableEntity), reply)
}

func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, settle.ErrInvalidArgs),
		errors.Is(err, settle.ErrZeroAmount),
		errors.Is(err, errBadRequest),
		errors.Is(err, transfer.ErrBadSignature),
		errors.Is(err, transfer.ErrWrongSender):
		return http.StatusBadRequest
	case errors.Is(err, claims.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, settle.ErrTokenNotFound),
		errors.Is(err, settle.ErrPoolNotFound),
		errors.Is(err, swap.ErrNoRoute),
		errors.Is(err, claims.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, settle.ErrPoolExists),
		errors.Is(err, ledger.ErrExists),
		errors.Is(err, ledger.ErrDuplicateTransfer),
		errors.Is(err, claims.ErrNotPending),
		errors.Is(err, claims.ErrNotFailed),
		errors.Is(err, claims.ErrMaxRetries),
		errors.Is(err, transfer.ErrTransferExists):
		return http.StatusConflict
	default:
		return fallback
	}
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string, bits int) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(chi.URLParam(r, name)), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return id, nil
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func queryAmount(r *http.Request, key string) (*big.Int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return v, nil
}
