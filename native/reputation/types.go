package reputation

const (
	// DefaultScore is assigned to parties with no completed orders.
	DefaultScore uint64 = 500
	// MaxScore bounds the derived score.
	MaxScore uint64 = 1000

	disputeWonBonus    uint64 = 10
	disputeLostPenalty uint64 = 50
)

// Record tracks the marketplace outcomes of one party. A single record covers
// both buyer and seller participation; the counters are mutated exclusively by
// the escrow settlement paths.
type Record struct {
	User             [20]byte
	TotalOrders      uint64
	SuccessfulOrders uint64
	DisputesOpened   uint64
	DisputesWon      uint64
	DisputesLost     uint64
	Score            uint64
	// ScorePending marks records whose plaintext score was withheld because
	// the triggering order opted into private reputation. It is cleared only
	// by ApplyPrivateResult.
	ScorePending bool
}

// Clone returns a copy the caller may mutate freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// DerivedScore computes the plaintext score from the counters: the success
// percentage plus a bonus per dispute won, minus a penalty per dispute lost,
// clamped to [0, MaxScore]. Parties with no orders sit at DefaultScore.
func (r *Record) DerivedScore() uint64 {
	if r == nil || r.TotalOrders == 0 {
		return DefaultScore
	}
	successRate := (r.SuccessfulOrders * 100) / r.TotalOrders
	bonus := r.DisputesWon * disputeWonBonus
	penalty := r.DisputesLost * disputeLostPenalty

	raw := successRate + bonus
	if raw < penalty {
		return 0
	}
	score := raw - penalty
	if score > MaxScore {
		return MaxScore
	}
	return score
}
