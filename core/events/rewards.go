package events

const (
	// TypeRewardMinted is emitted once per reward created, including each
	// successful item inside a batch.
	TypeRewardMinted = "rewards.minted"
	// TypeRewardBatchMinted summarises a completed batch mint.
	TypeRewardBatchMinted = "rewards.batch_minted"
	// TypeRewardBurned is emitted when a reward reaches its terminal state.
	TypeRewardBurned = "rewards.burned"
	// TypeRewardPointsUpdated is emitted when a reward's point balance is
	// overwritten.
	TypeRewardPointsUpdated = "rewards.points_updated"
	// TypeRewardTransferred is emitted when reward ownership changes hands.
	TypeRewardTransferred = "rewards.transferred"
)

// RewardMinted captures a newly issued reward.
type RewardMinted struct {
	ID         uint64
	Owner      [20]byte
	Points     uint64
	Annotation string
}

// EventType implements the Event interface.
func (RewardMinted) EventType() string { return TypeRewardMinted }

// RewardBatchMinted summarises one batch mint invocation: how many items were
// requested, which ids were issued, and how many items were skipped by
// per-item validation.
type RewardBatchMinted struct {
	Authority  [20]byte
	Requested  int
	MintedIDs  []uint64
	Skipped    int
	Annotation string
}

// EventType implements the Event interface.
func (RewardBatchMinted) EventType() string { return TypeRewardBatchMinted }

// RewardBurned marks a reward's transition into the terminal burned state.
type RewardBurned struct {
	ID    uint64
	Owner [20]byte
}

// EventType implements the Event interface.
func (RewardBurned) EventType() string { return TypeRewardBurned }

// RewardPointsUpdated records a point balance overwrite.
type RewardPointsUpdated struct {
	ID        uint64
	Caller    [20]byte
	OldPoints uint64
	NewPoints uint64
}

// EventType implements the Event interface.
func (RewardPointsUpdated) EventType() string { return TypeRewardPointsUpdated }

// RewardTransferred records an ownership change.
type RewardTransferred struct {
	ID   uint64
	From [20]byte
	To   [20]byte
}

// EventType implements the Event interface.
func (RewardTransferred) EventType() string { return TypeRewardTransferred }
