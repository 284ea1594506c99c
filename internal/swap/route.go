package swap

import (
	"fmt"
	"math/big"

	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
)

// PoolSource looks up the pool of a token pair.
type PoolSource func(a, b uint32) (model.Pool, bool, error)

// Route is a direct or hub-routed swap.
type Route struct {
	Legs          []Leg
	PayToken      model.Token
	ReceiveToken  model.Token
	PayAmount     *big.Int
	ReceiveAmount *big.Int
	MidPrice      *big.Rat
	Price         *big.Rat
	// Slippage is the display percentage, rounded to two places.
	Slippage float64
}

// Plan quotes the direct pool, or the best route through one hub token when no
// direct pool exists.
func Plan(pools PoolSource, pay, receive model.Token, hubs []model.Token, amount *big.Int, feeLevel uint8) (Route, error) {
	if pay.ID == receive.ID {
		return Route{}, fmt.Errorf("pay and receive token are both %d: %w", pay.ID, ErrNoRoute)
	}
	direct, ok, err := pools(pay.ID, receive.ID)
	if err != nil {
		return Route{}, err
	}
	if ok && !direct.Removed {
		leg, err := Quote(direct, pay, receive, amount, Params{FeeLevel: feeLevel})
		if err != nil {
			return Route{}, err
		}
		return newRoute(pay, receive, amount, leg), nil
	}

	var (
		best    Route
		found   bool
		lastErr error
	)
	for _, hub := range hubs {
		if hub.ID == pay.ID || hub.ID == receive.ID {
			continue
		}
		first, ok1, err := pools(pay.ID, hub.ID)
		if err != nil {
			return Route{}, err
		}
		second, ok2, err := pools(hub.ID, receive.ID)
		if err != nil {
			return Route{}, err
		}
		if !ok1 || !ok2 || first.Removed || second.Removed {
			continue
		}
		route, err := twoHop(first, second, pay, hub, receive, amount, feeLevel)
		if err != nil {
			lastErr = err
			continue
		}
		if !found || route.ReceiveAmount.Cmp(best.ReceiveAmount) > 0 {
			best, found = route, true
		}
	}
	if !found {
		if lastErr != nil {
			return Route{}, lastErr
		}
		return Route{}, fmt.Errorf("%s to %s: %w", pay.Symbol, receive.Symbol, ErrNoRoute)
	}
	return best, nil
}

// twoHop composes two legs; the intermediate leg pays no gas since nothing leaves custody.
func twoHop(first, second model.Pool, pay, hub, receive model.Token, amount *big.Int, feeLevel uint8) (Route, error) {
	leg1, err := Quote(first, pay, hub, amount, Params{FeeLevel: feeLevel, GasFee: numeric.Zero()})
	if err != nil {
		return Route{}, err
	}
	leg2, err := Quote(second, hub, receive, leg1.Receive, Params{FeeLevel: feeLevel})
	if err != nil {
		return Route{}, err
	}
	return newRoute(pay, receive, amount, leg1, leg2), nil
}

// newRoute prices the route end to end: the final leg's gross output per pay
// token. Later legs are fed net amounts, so per-leg prices do not multiply.
func newRoute(pay, receive model.Token, amount *big.Int, legs ...Leg) Route {
	mid := big.NewRat(1, 1)
	for _, leg := range legs {
		mid.Mul(mid, leg.MidPrice)
	}
	last := legs[len(legs)-1]
	price := new(big.Rat).Set(mid)
	if last.Gross.Sign() > 0 {
		if p, ok := numeric.ScaledRatio(last.Gross, receive.Decimals, amount, pay.Decimals); ok {
			price = p
		}
	}
	return Route{
		Legs:          legs,
		PayToken:      pay,
		ReceiveToken:  receive,
		PayAmount:     numeric.Clone(amount),
		ReceiveAmount: numeric.Clone(last.Receive),
		MidPrice:      mid,
		Price:         price,
		Slippage:      Slippage(price, mid),
	}
}

// Slippage returns 100 * max(0, 1 - price/mid) rounded to two places for display.
func Slippage(price, mid *big.Rat) float64 {
	if price == nil || mid == nil || mid.Sign() == 0 {
		return 0
	}
	ratio := new(big.Rat).Quo(price, mid)
	loss := new(big.Rat).Sub(big.NewRat(1, 1), ratio)
	if loss.Sign() <= 0 {
		return 0
	}
	loss.Mul(loss, big.NewRat(100, 1))
	return numeric.DisplayFloat(loss, 2)
}

// CheckSlippage rejects a route above maxSlippage percent or below minReceive.
func CheckSlippage(route Route, maxSlippage float64, minReceive *big.Int) error {
	if maxSlippage > 0 && route.Slippage > maxSlippage {
		return fmt.Errorf("slippage %.2f%% above %.2f%%: %w", route.Slippage, maxSlippage, ErrSlippageExceeded)
	}
	if !numeric.IsZero(minReceive) && route.ReceiveAmount.Cmp(minReceive) < 0 {
		return fmt.Errorf("receive %s below expected %s: %w", route.ReceiveAmount, minReceive, ErrSlippageExceeded)
	}
	return nil
}

// Detail converts the route into the stored reply shape.
func (r Route) Detail() *model.SwapDetail {
	detail := &model.SwapDetail{
		PayToken:      r.PayToken.ID,
		PayAmount:     numeric.Clone(r.PayAmount),
		ReceiveToken:  r.ReceiveToken.ID,
		ReceiveAmount: numeric.Clone(r.ReceiveAmount),
		MidPrice:      numeric.RatString(r.MidPrice),
		Price:         numeric.RatString(r.Price),
		Slippage:      r.Slippage,
	}
	for _, leg := range r.Legs {
		detail.Hops = append(detail.Hops, model.SwapHop{
			PoolID:        leg.After.ID,
			PayToken:      leg.PayToken.ID,
			PayAmount:     numeric.Clone(leg.PayAmount),
			ReceiveToken:  leg.ReceiveToken.ID,
			ReceiveAmount: numeric.Clone(leg.Receive),
			LPFee:         numeric.Clone(leg.LPFee),
			ProtocolFee:   numeric.Clone(leg.ProtocolFee),
			GasFee:        numeric.Clone(leg.GasFee),
			Price:         numeric.RatString(leg.Price),
		})
	}
	return detail
}
