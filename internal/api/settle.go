package api

import (
	"context"
	"net/http"

	"ammSettle/internal/model"
	"ammSettle/internal/settle"
)

type asyncResponse struct {
	RequestID uint64 `json:"request_id"`
}

func settleSync[A any](fn func(context.Context, string, A) (model.Reply, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var args A
		if err := decodeBody(r, &args); err != nil {
			writeErr(w, err)
			return
		}
		reply, err := fn(r.Context(), caller(r), args)
		writeReply(w, reply, err)
	}
}

// settleAsync answers once the request is recorded; the result is read back
// from /v1/requests/{id}.
func settleAsync[A any](fn func(context.Context, string, A) (uint64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var args A
		if err := decodeBody(r, &args); err != nil {
			writeErr(w, err)
			return
		}
		id, err := fn(r.Context(), caller(r), args)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, asyncResponse{RequestID: id})
	}
}

func (s *Server) addPool(w http.ResponseWriter, r *http.Request) {
	settleSync(s.engine.AddPool)(w, r)
}

func (s *Server) addPoolAsync(w http.ResponseWriter, r *http.Request) {
	settleAsync(s.engine.AddPoolAsync)(w, r)
}

func (s *Server) addLiquidity(w http.ResponseWriter, r *http.Request) {
	settleSync(s.engine.AddLiquidity)(w, r)
}

func (s *Server) addLiquidityAsync(w http.ResponseWriter, r *http.Request) {
	settleAsync(s.engine.AddLiquidityAsync)(w, r)
}

func (s *Server) removeLiquidity(w http.ResponseWriter, r *http.Request) {
	settleSync(s.engine.RemoveLiquidity)(w, r)
}

func (s *Server) removeLiquidityAsync(w http.ResponseWriter, r *http.Request) {
	settleAsync(s.engine.RemoveLiquidityAsync)(w, r)
}

func (s *Server) swap(w http.ResponseWriter, r *http.Request) {
	settleSync(s.engine.Swap)(w, r)
}

func (s *Server) swapAsync(w http.ResponseWriter, r *http.Request) {
	settleAsync(s.engine.SwapAsync)(w, r)
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	settleSync(s.engine.Send)(w, r)
}

func (s *Server) sendAsync(w http.ResponseWriter, r *http.Request) {
	settleAsync(s.engine.SendAsync)(w, r)
}

func (s *Server) addToken(w http.ResponseWriter, r *http.Request) {
	var args settle.AddTokenArgs
	if err := decodeBody(r, &args); err != nil {
		writeErr(w, err)
		return
	}
	token, err := s.engine.AddToken(r.Context(), args)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

// quote prices a swap for the caller's fee level without settling it.
func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := queryAmount(r, "amount")
	if err != nil {
		writeErr(w, err)
		return
	}
	var feeLevel uint8
	if principal := r.Header.Get(CallerHeader); principal != "" {
		if user, ok, err := s.lookupUser(r.Context(), principal); err == nil && ok {
			feeLevel = user.FeeLevel
		}
	}
	route, err := s.engine.Quote(r.Context(), q.Get("pay"), q.Get("receive"), amount, feeLevel)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route.Detail())
}
