package rewards

const (
	// MinPoints is the smallest balance a reward may be minted or updated
	// with.
	MinPoints uint64 = 1
	// MaxBatchSize caps the number of items a single batch mint accepts.
	MaxBatchSize = 100
	// MaxAnnotationLength bounds the batch annotation in bytes.
	MaxAnnotationLength = 256
)

// Reward is a uniquely identified ledger record carrying a mutable point
// balance and a single current owner. Once Burned flips to true the record is
// permanently read-only.
type Reward struct {
	ID         uint64
	Owner      [20]byte
	Points     uint64
	Burned     bool
	Annotation string
}

// Clone creates a copy of the reward so callers cannot mutate internal state.
func (r *Reward) Clone() *Reward {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
