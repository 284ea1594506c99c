package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"ammSettle/internal/ledger"
	"ammSettle/internal/liquidity"
	"ammSettle/internal/model"
	"ammSettle/internal/transfer"
)

func (s *Server) lookupUser(ctx context.Context, principal string) (model.User, bool, error) {
	var (
		user model.User
		ok   bool
	)
	err := s.ledger.View(ctx, func(tx *ledger.Tx) error {
		var err error
		user, ok, err = tx.UserByPrincipal(principal)
		return err
	})
	return user, ok, err
}

// withUser runs fn for the caller's user record. Unknown callers have no
// history yet and get empty.
func (s *Server) withUser(w http.ResponseWriter, r *http.Request, fn func(tx *ledger.Tx, user model.User) (any, error), empty any) {
	var (
		out   any
		found bool
	)
	err := s.ledger.View(r.Context(), func(tx *ledger.Tx) error {
		user, ok, err := tx.UserByPrincipal(caller(r))
		if err != nil || !ok {
			return err
		}
		found = true
		out, err = fn(tx, user)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		out = empty
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	var tokens []model.Token
	err := s.ledger.View(r.Context(), func(tx *ledger.Tx) error {
		var err error
		tokens, err = tx.Tokens()
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	var pools []model.Pool
	err := s.ledger.View(r.Context(), func(tx *ledger.Tx) error {
		var err error
		pools, err = tx.Pools()
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", 32)
	if err != nil {
		writeErr(w, err)
		return
	}
	var pool model.Pool
	err = s.ledger.View(r.Context(), func(tx *ledger.Tx) error {
		p, ok, err := tx.Pool(uint32(id))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pool %d: %w", id, ledger.ErrNotFound)
		}
		pool = p
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// getRequest returns one of the caller's requests. Operators can read any.
func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", 64)
	if err != nil {
		writeErr(w, err)
		return
	}
	_, admin := s.admins[caller(r)]
	var req model.Request
	err = s.ledger.View(r.Context(), func(tx *ledger.Tx) error {
		found, ok, err := tx.Request(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("request %d: %w", id, ledger.ErrNotFound)
		}
		if !admin {
			user, ok, err := tx.UserByPrincipal(caller(r))
			if err != nil {
				return err
			}
			if !ok || user.ID != found.UserID {
				return fmt.Errorf("request %d: %w", id, ledger.ErrNotFound)
			}
		}
		req = found
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) userRequests(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	s.withUser(w, r, func(tx *ledger.Tx, user model.User) (any, error) {
		return tx.UserRequests(user.ID, limit)
	}, []model.Request{})
}

func (s *Server) userTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	s.withUser(w, r, func(tx *ledger.Tx, user model.User) (any, error) {
		return tx.UserTransactions(user.ID, limit)
	}, []model.Transaction{})
}

func (s *Server) userClaims(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	s.withUser(w, r, func(tx *ledger.Tx, user model.User) (any, error) {
		return tx.UserClaims(user.ID, limit)
	}, []model.Claim{})
}

// lpPosition is an LP balance with the pool amounts it currently redeems for.
type lpPosition struct {
	model.LPBalance
	PoolID  uint32   `json:"pool_id"`
	Token0  uint32   `json:"token_0"`
	Amount0 *big.Int `json:"amount_0"`
	Token1  uint32   `json:"token_1"`
	Amount1 *big.Int `json:"amount_1"`
}

func (s *Server) userLPBalances(w http.ResponseWriter, r *http.Request) {
	s.withUser(w, r, func(tx *ledger.Tx, user model.User) (any, error) {
		balances, err := tx.UserLPBalances(user.ID)
		if err != nil {
			return nil, err
		}
		out := make([]lpPosition, 0, len(balances))
		for _, b := range balances {
			pos := lpPosition{LPBalance: b}
			token, ok, err := tx.Token(b.TokenID)
			if err != nil {
				return nil, err
			}
			if ok && token.PoolID != 0 {
				pool, ok, err := tx.Pool(token.PoolID)
				if err != nil {
					return nil, err
				}
				if ok {
					pos.PoolID, pos.Token0, pos.Token1 = pool.ID, pool.Token0, pool.Token1
					pos.Amount0, pos.Amount1 = liquidity.Underlying(pool, b.Amount)
				}
			}
			out = append(out, pos)
		}
		return out, nil
	}, []lpPosition{})
}

func (s *Server) recovery(w http.ResponseWriter, r *http.Request) {
	var entries []model.RecoveryEntry
	err := s.ledger.View(r.Context(), func(tx *ledger.Tx) error {
		var err error
		entries, err = tx.RecoveryEntries(queryLimit(r))
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) processClaim(w http.ResponseWriter, r *http.Request) {
	s.runClaim(w, r, false)
}

func (s *Server) retryClaim(w http.ResponseWriter, r *http.Request) {
	s.runClaim(w, r, true)
}

func (s *Server) runClaim(w http.ResponseWriter, r *http.Request, retry bool) {
	id, err := pathID(r, "id", 64)
	if err != nil {
		writeErr(w, err)
		return
	}
	var claim model.Claim
	if retry {
		claim, err = s.claims.Retry(r.Context(), caller(r), id)
	} else {
		claim, err = s.claims.Process(r.Context(), caller(r), id)
	}
	if err != nil {
		if claim.ID != 0 {
			// The payout was attempted; the claim carries the failure.
			writeJSON(w, http.StatusBadGateway, claim)
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type batchRequest struct {
	IDs []uint64 `json:"ids"`
}

func (s *Server) batchClaims(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, caller(r))
}

func (s *Server) operatorBatch(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, "")
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request, principal string) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.claims.Batch(r.Context(), principal, req.IDs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) ingestSolana(w http.ResponseWriter, r *http.Request) {
	var rec transfer.IngestedTransfer
	if err := decodeBody(r, &rec); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.ingest.Ingest(r.Context(), rec); err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"signature": rec.Signature})
}
