package state

import (
	"fmt"

	"rewardledger/native/rewards"
)

func rewardRecordKey(id uint64) []byte {
	return []byte(fmt.Sprintf(rewardRecordKeyFmt, id))
}

type storedReward struct {
	ID         uint64
	Owner      [20]byte
	Points     uint64
	Burned     bool
	Annotation string
}

func newStoredReward(r *rewards.Reward) *storedReward {
	if r == nil {
		return nil
	}
	return &storedReward{
		ID:         r.ID,
		Owner:      r.Owner,
		Points:     r.Points,
		Burned:     r.Burned,
		Annotation: r.Annotation,
	}
}

func (s *storedReward) toReward() *rewards.Reward {
	if s == nil {
		return nil
	}
	return &rewards.Reward{
		ID:         s.ID,
		Owner:      s.Owner,
		Points:     s.Points,
		Burned:     s.Burned,
		Annotation: s.Annotation,
	}
}

// RewardPut stores the reward record under its id.
func (m *Manager) RewardPut(r *rewards.Reward) error {
	if r == nil {
		return fmt.Errorf("rewards: nil record")
	}
	if r.ID == 0 {
		return fmt.Errorf("rewards: record id must be positive")
	}
	return m.KVPut(rewardRecordKey(r.ID), newStoredReward(r))
}

// RewardGet loads the reward record for the given id. The boolean reports
// whether the record exists.
func (m *Manager) RewardGet(id uint64) (*rewards.Reward, bool, error) {
	if id == 0 {
		return nil, false, nil
	}
	stored := new(storedReward)
	ok, err := m.KVGet(rewardRecordKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toReward(), true, nil
}

// RewardCounter returns the last assigned reward id, 0 before the first mint.
func (m *Manager) RewardCounter() (uint64, error) {
	var counter uint64
	if _, err := m.KVGet(rewardCounterKey, &counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// SetRewardCounter persists the last assigned reward id.
func (m *Manager) SetRewardCounter(value uint64) error {
	return m.KVPut(rewardCounterKey, value)
}

// RewardAuthority returns the configured mint authority, if initialised.
func (m *Manager) RewardAuthority() ([20]byte, bool, error) {
	var authority [20]byte
	ok, err := m.KVGet(rewardAuthorityKey, &authority)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return authority, true, nil
}

// InitRewardAuthority writes the mint authority on first boot and verifies it
// on every subsequent one. Changing the authority of an existing ledger is
// rejected.
func (m *Manager) InitRewardAuthority(authority [20]byte) error {
	if authority == ([20]byte{}) {
		return fmt.Errorf("rewards: authority must be a non-zero address")
	}
	existing, ok, err := m.RewardAuthority()
	if err != nil {
		return err
	}
	if !ok {
		return m.KVPut(rewardAuthorityKey, authority)
	}
	if existing != authority {
		return fmt.Errorf("rewards: configured authority does not match ledger state")
	}
	return nil
}
