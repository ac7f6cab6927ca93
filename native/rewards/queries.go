package rewards

// MaxListPageSize bounds one page of the List query.
const MaxListPageSize = 100

// Queries never fail on absence: a missing id yields an explicit "not found"
// indicator instead of an error. The error returns below carry storage
// failures only.

// Get returns a snapshot of the reward with the given id.
func (e *Engine) Get(id uint64) (*Reward, bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return reward.Clone(), true, nil
}

// OwnerOf returns the current owner of the reward.
func (e *Engine) OwnerOf(id uint64) ([20]byte, bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return reward.Owner, true, nil
}

// PointsOf returns the stored point balance of the reward.
func (e *Engine) PointsOf(id uint64) (uint64, bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil || !ok {
		return 0, false, err
	}
	return reward.Points, true, nil
}

// IsBurned reports whether the reward has reached its terminal state.
func (e *Engine) IsBurned(id uint64) (bool, bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil || !ok {
		return false, false, err
	}
	return reward.Burned, true, nil
}

// AnnotationOf returns the batch annotation recorded at mint time.
func (e *Engine) AnnotationOf(id uint64) (string, bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil || !ok {
		return "", false, err
	}
	return reward.Annotation, true, nil
}

// Exists reports whether the id is addressable.
func (e *Engine) Exists(id uint64) (bool, error) {
	_, ok, err := e.state.RewardGet(id)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// LastID returns the most recently assigned reward id, 0 before the first
// mint.
func (e *Engine) LastID() (uint64, error) {
	return e.state.RewardCounter()
}

// TotalMinted returns the number of rewards ever minted. Ids are assigned
// densely and never reused, so this equals LastID.
func (e *Engine) TotalMinted() (uint64, error) {
	return e.state.RewardCounter()
}

// IsValid reports whether the reward exists and has not been burned.
func (e *Engine) IsValid(id uint64) (bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil {
		return false, err
	}
	return ok && !reward.Burned, nil
}

// CanTransfer reports whether sender currently holds a live reward.
func (e *Engine) CanTransfer(id uint64, sender [20]byte) (bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil {
		return false, err
	}
	return ok && !reward.Burned && reward.Owner == sender, nil
}

// CanBurn reports whether sender may retire the reward. The predicate matches
// CanTransfer today; burning and transferring stay distinct permission checks
// at the API surface.
func (e *Engine) CanBurn(id uint64, sender [20]byte) (bool, error) {
	return e.CanTransfer(id, sender)
}

// HasAtLeastPoints reports whether the reward exists, is live, and holds at
// least n points.
func (e *Engine) HasAtLeastPoints(id uint64, n uint64) (bool, error) {
	reward, ok, err := e.state.RewardGet(id)
	if err != nil {
		return false, err
	}
	return ok && !reward.Burned && reward.Points >= n, nil
}

// List returns an ascending page of reward snapshots beginning at startID
// (0 starts from the first id) plus the id the next page should start from,
// 0 once the range is exhausted.
func (e *Engine) List(startID uint64, limit int) ([]*Reward, uint64, error) {
	last, err := e.state.RewardCounter()
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > MaxListPageSize {
		limit = MaxListPageSize
	}
	id := startID
	if id == 0 {
		id = 1
	}
	out := make([]*Reward, 0, limit)
	for ; id <= last && len(out) < limit; id++ {
		reward, ok, err := e.state.RewardGet(id)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			continue
		}
		out = append(out, reward.Clone())
	}
	var next uint64
	if id <= last {
		next = id
	}
	return out, next, nil
}
