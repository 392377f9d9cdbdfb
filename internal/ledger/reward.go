package ledger

// HalvingInterval is the number of blocks between reward halvings.
const HalvingInterval = 2000

// InitialReward is the coinbase reward at height 0.
const InitialReward = 50.0

// SupplyCap is the fixed maximum circulating supply (§4.2 get_statistics).
const SupplyCap = 100_000_000.0

// RewardAtHeight returns reward(height) = 50 / 2^(height // 2000), using
// integer division for the exponent (§4.2).
func RewardAtHeight(height int64) float64 {
	halvings := height / HalvingInterval
	reward := InitialReward
	for i := int64(0); i < halvings; i++ {
		reward /= 2
	}
	return reward
}

// BlocksUntilNextHalving returns how many blocks remain until the next
// halving boundary above height.
func BlocksUntilNextHalving(height int64) int64 {
	next := ((height / HalvingInterval) + 1) * HalvingInterval
	return next - height
}
