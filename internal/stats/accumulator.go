package stats

import (
	"math/big"

	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
)

// Accumulator holds the window totals of one pool.
type Accumulator struct {
	PoolID    uint32
	SwapCount uint64
	Volume0   *big.Int
	Volume1   *big.Int
	Fees0     *big.Int
	Fees1     *big.Int
}

func NewAccumulator(poolID uint32) *Accumulator {
	return &Accumulator{
		PoolID:  poolID,
		Volume0: big.NewInt(0),
		Volume1: big.NewInt(0),
		Fees0:   big.NewInt(0),
		Fees1:   big.NewInt(0),
	}
}

// AddHop folds one swap leg into the totals. Volume counts both sides of the
// leg; the LP fee accrues on the side that was paid out.
func (a *Accumulator) AddHop(pool model.Pool, hop model.SwapHop) {
	if hop.PoolID != a.PoolID {
		return
	}
	if hop.PayToken == pool.Token0 {
		absAdd(a.Volume0, hop.PayAmount)
		absAdd(a.Volume1, hop.ReceiveAmount)
		absAdd(a.Fees1, hop.LPFee)
	} else {
		absAdd(a.Volume1, hop.PayAmount)
		absAdd(a.Volume0, hop.ReceiveAmount)
		absAdd(a.Fees0, hop.LPFee)
	}
	a.SwapCount++
}

// Stats converts the totals into the stored pool figures.
func (a *Accumulator) Stats(pool model.Pool, windowSeconds uint64) model.PoolStats {
	return model.PoolStats{
		Volume0:   numeric.Clone(a.Volume0),
		Volume1:   numeric.Clone(a.Volume1),
		Fees0:     numeric.Clone(a.Fees0),
		Fees1:     numeric.Clone(a.Fees1),
		SwapCount: a.SwapCount,
		APY:       computeAPY(a.Fees0, a.Fees1, pool.Reserve0(), pool.Reserve1(), windowSeconds),
	}
}

func absAdd(target *big.Int, value *big.Int) {
	if value == nil || target == nil {
		return
	}
	target.Add(target, new(big.Int).Abs(value))
}
