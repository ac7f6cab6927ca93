package state

import (
	"testing"

	"rewardledger/native/rewards"
	"rewardledger/storage"
	"rewardledger/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() {
		db.Close()
	})
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

func TestRewardRecordRoundTrip(t *testing.T) {
	manager := newTestManager(t)

	var owner [20]byte
	owner[19] = 7
	record := &rewards.Reward{ID: 42, Owner: owner, Points: 150, Annotation: "spring batch"}
	if err := manager.RewardPut(record); err != nil {
		t.Fatalf("put reward: %v", err)
	}

	got, ok, err := manager.RewardGet(42)
	if err != nil {
		t.Fatalf("get reward: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if got.ID != record.ID || got.Owner != record.Owner || got.Points != record.Points {
		t.Fatalf("record mismatch: %+v", got)
	}
	if got.Burned {
		t.Fatalf("fresh record must not be burned")
	}
	if got.Annotation != "spring batch" {
		t.Fatalf("annotation mismatch: %q", got.Annotation)
	}

	got.Burned = true
	if err := manager.RewardPut(got); err != nil {
		t.Fatalf("update reward: %v", err)
	}
	reloaded, ok, err := manager.RewardGet(42)
	if err != nil || !ok {
		t.Fatalf("reload reward: ok=%v err=%v", ok, err)
	}
	if !reloaded.Burned {
		t.Fatalf("expected burned flag to persist")
	}
}

func TestRewardGetAbsent(t *testing.T) {
	manager := newTestManager(t)

	got, ok, err := manager.RewardGet(7)
	if err != nil {
		t.Fatalf("get absent reward: %v", err)
	}
	if ok || got != nil {
		t.Fatalf("expected absence, got %+v", got)
	}
	if _, ok, err := manager.RewardGet(0); err != nil || ok {
		t.Fatalf("id zero must never resolve")
	}
}

func TestRewardPutRejectsInvalidRecords(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.RewardPut(nil); err == nil {
		t.Fatalf("expected nil record rejection")
	}
	if err := manager.RewardPut(&rewards.Reward{ID: 0, Points: 1}); err == nil {
		t.Fatalf("expected zero id rejection")
	}
}

func TestRewardCounterDefaultsToZero(t *testing.T) {
	manager := newTestManager(t)

	counter, err := manager.RewardCounter()
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if counter != 0 {
		t.Fatalf("expected zero counter, got %d", counter)
	}

	if err := manager.SetRewardCounter(9); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	counter, err = manager.RewardCounter()
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if counter != 9 {
		t.Fatalf("expected counter 9, got %d", counter)
	}
}

func TestInitRewardAuthority(t *testing.T) {
	manager := newTestManager(t)

	var authority [20]byte
	authority[0] = 0xaa

	if err := manager.InitRewardAuthority([20]byte{}); err == nil {
		t.Fatalf("expected zero authority rejection")
	}

	if _, ok, err := manager.RewardAuthority(); err != nil || ok {
		t.Fatalf("authority must be absent before init")
	}
	if err := manager.InitRewardAuthority(authority); err != nil {
		t.Fatalf("init authority: %v", err)
	}

	stored, ok, err := manager.RewardAuthority()
	if err != nil || !ok {
		t.Fatalf("authority lookup: ok=%v err=%v", ok, err)
	}
	if stored != authority {
		t.Fatalf("authority mismatch")
	}

	// Re-initialising with the same value is a no-op.
	if err := manager.InitRewardAuthority(authority); err != nil {
		t.Fatalf("re-init authority: %v", err)
	}

	var other [20]byte
	other[0] = 0xbb
	if err := manager.InitRewardAuthority(other); err == nil {
		t.Fatalf("expected mismatch rejection")
	}
}
