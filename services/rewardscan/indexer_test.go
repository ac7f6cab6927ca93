package rewardscan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"rewardledger/core/events"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	idx, err := NewIndexer(newTestDB(t), defaults(), nil)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	return idx
}

func mintFrame(seq, id uint64, owner string, points uint64) FeedFrame {
	return FeedFrame{
		Sequence:  seq,
		Cursor:    strconv.FormatUint(seq, 10),
		Type:      events.TypeRewardMinted,
		ID:        id,
		Owner:     owner,
		Points:    points,
		Timestamp: 1700000000,
	}
}

func mustApply(t *testing.T, idx *Indexer, frame FeedFrame) bool {
	t.Helper()
	applied, err := idx.Apply(context.Background(), frame)
	if err != nil {
		t.Fatalf("apply frame seq %d: %v", frame.Sequence, err)
	}
	return applied
}

func TestApplyMintCreatesReward(t *testing.T) {
	idx := newTestIndexer(t)
	mustApply(t, idx, mintFrame(1, 1, "rwd1owner", 25))

	var reward Reward
	if err := idx.db.First(&reward, "id = ?", 1).Error; err != nil {
		t.Fatalf("load reward: %v", err)
	}
	if reward.Owner != "rwd1owner" {
		t.Fatalf("owner = %q, want rwd1owner", reward.Owner)
	}
	if reward.Points != 25 {
		t.Fatalf("points = %d, want 25", reward.Points)
	}
	if reward.Burned {
		t.Fatalf("fresh reward marked burned")
	}

	var event Event
	if err := idx.db.First(&event, "sequence = ?", 1).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.Type != events.TypeRewardMinted {
		t.Fatalf("event type = %q, want %q", event.Type, events.TypeRewardMinted)
	}
	if event.RewardID != 1 {
		t.Fatalf("event reward id = %d, want 1", event.RewardID)
	}

	cursor, err := idx.LastCursor()
	if err != nil {
		t.Fatalf("last cursor: %v", err)
	}
	if cursor != "1" {
		t.Fatalf("cursor = %q, want 1", cursor)
	}
}

func TestApplyLifecycle(t *testing.T) {
	idx := newTestIndexer(t)
	mustApply(t, idx, mintFrame(1, 1, "rwd1alice", 10))
	mustApply(t, idx, FeedFrame{
		Sequence:  2,
		Cursor:    "2",
		Type:      events.TypeRewardPointsUpdated,
		ID:        1,
		Actor:     "rwd1authority",
		OldPoints: 10,
		Points:    25,
	})
	mustApply(t, idx, FeedFrame{
		Sequence: 3,
		Cursor:   "3",
		Type:     events.TypeRewardTransferred,
		ID:       1,
		From:     "rwd1alice",
		To:       "rwd1bob",
	})
	mustApply(t, idx, FeedFrame{
		Sequence: 4,
		Cursor:   "4",
		Type:     events.TypeRewardBurned,
		ID:       1,
		Owner:    "rwd1bob",
	})

	var reward Reward
	if err := idx.db.First(&reward, "id = ?", 1).Error; err != nil {
		t.Fatalf("load reward: %v", err)
	}
	if reward.Owner != "rwd1bob" {
		t.Fatalf("owner = %q, want rwd1bob", reward.Owner)
	}
	if reward.Points != 25 {
		t.Fatalf("points = %d, want 25", reward.Points)
	}
	if !reward.Burned {
		t.Fatalf("reward not marked burned")
	}

	var count int64
	if err := idx.db.Model(&Event{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 4 {
		t.Fatalf("event count = %d, want 4", count)
	}

	cursor, err := idx.LastCursor()
	if err != nil {
		t.Fatalf("last cursor: %v", err)
	}
	if cursor != "4" {
		t.Fatalf("cursor = %q, want 4", cursor)
	}
}

func TestApplyReplaySkipsDuplicateSequence(t *testing.T) {
	idx := newTestIndexer(t)
	if !mustApply(t, idx, mintFrame(1, 1, "rwd1alice", 10)) {
		t.Fatalf("first frame reported as replay")
	}

	// Replays after a reconnect carry sequences already stored.
	replay := mintFrame(1, 1, "rwd1alice", 999)
	if mustApply(t, idx, replay) {
		t.Fatalf("replay reported as applied")
	}

	var reward Reward
	if err := idx.db.First(&reward, "id = ?", 1).Error; err != nil {
		t.Fatalf("load reward: %v", err)
	}
	if reward.Points != 10 {
		t.Fatalf("points = %d after replay, want 10", reward.Points)
	}

	var count int64
	if err := idx.db.Model(&Event{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("event count = %d, want 1", count)
	}
}

func TestApplyBatchSummaryStoresEventOnly(t *testing.T) {
	idx := newTestIndexer(t)
	mustApply(t, idx, FeedFrame{
		Sequence:   1,
		Cursor:     "1",
		Type:       events.TypeRewardBatchMinted,
		Actor:      "rwd1authority",
		Requested:  3,
		Skipped:    1,
		MintedIDs:  []uint64{1, 2},
		Annotation: "q3 promo",
	})

	var rewards int64
	if err := idx.db.Model(&Reward{}).Count(&rewards).Error; err != nil {
		t.Fatalf("count rewards: %v", err)
	}
	if rewards != 0 {
		t.Fatalf("reward rows = %d, want 0 for summary frame", rewards)
	}

	var event Event
	if err := idx.db.First(&event, "sequence = ?", 1).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.MintedIDs != "1,2" {
		t.Fatalf("minted ids = %q, want 1,2", event.MintedIDs)
	}
	if event.Requested != 3 || event.Skipped != 1 {
		t.Fatalf("requested/skipped = %d/%d, want 3/1", event.Requested, event.Skipped)
	}
	if event.Annotation != "q3 promo" {
		t.Fatalf("annotation = %q", event.Annotation)
	}
}

func TestLastCursorEmptyDatabase(t *testing.T) {
	idx := newTestIndexer(t)
	cursor, err := idx.LastCursor()
	if err != nil {
		t.Fatalf("last cursor: %v", err)
	}
	if cursor != "" {
		t.Fatalf("cursor = %q on empty database, want empty", cursor)
	}
}

func TestHandleFrameForwardsWebhook(t *testing.T) {
	var deliveries int32
	var lastEvent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&deliveries, 1)
		lastEvent.Store(r.Header.Get("X-Reward-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := defaults()
	cfg.Webhook = WebhookConfig{URL: server.URL, Secret: "hook-secret"}
	idx, err := NewIndexer(newTestDB(t), cfg, nil)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	defer idx.Close()

	frame := mintFrame(1, 1, "rwd1alice", 10)
	if err := idx.handleFrame(context.Background(), frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	// The replay must not produce a second delivery.
	if err := idx.handleFrame(context.Background(), frame); err != nil {
		t.Fatalf("handle replay: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&deliveries) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&deliveries); got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
	if event, _ := lastEvent.Load().(string); event != events.TypeRewardMinted {
		t.Fatalf("event header = %q, want %q", event, events.TypeRewardMinted)
	}
}
