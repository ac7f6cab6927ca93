package core

import (
	"context"
	"fmt"
	"testing"

	"rewardledger/core/events"
)

func publishTestUpdates(l *Ledger, count int) {
	for i := 1; i <= count; i++ {
		l.publishRewardUpdate(RewardUpdate{
			Type:   events.TypeRewardMinted,
			ID:     uint64(i),
			Points: uint64(i * 10),
		})
	}
}

func TestRewardSubscribeReplaysBacklogAfterCursor(t *testing.T) {
	l := &Ledger{}
	publishTestUpdates(l, 3)

	updates, cancel, backlog, err := l.RewardSubscribe(context.Background(), "1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if len(backlog) != 2 {
		t.Fatalf("expected 2 backlog entries, got %d", len(backlog))
	}
	if backlog[0].Sequence != 2 || backlog[1].Sequence != 3 {
		t.Fatalf("backlog sequences = %d, %d", backlog[0].Sequence, backlog[1].Sequence)
	}
	if backlog[0].Cursor != "2" {
		t.Fatalf("backlog cursor = %q", backlog[0].Cursor)
	}

	l.publishRewardUpdate(RewardUpdate{Type: events.TypeRewardMinted, ID: 4})
	select {
	case update := <-updates:
		if update.Sequence != 4 || update.ID != 4 {
			t.Fatalf("unexpected live update %+v", update)
		}
	default:
		t.Fatalf("expected live update after publish")
	}
}

func TestRewardSubscribeRejectsInvalidCursor(t *testing.T) {
	l := &Ledger{}
	if _, _, _, err := l.RewardSubscribe(context.Background(), "not-a-number"); err == nil {
		t.Fatalf("expected cursor parse error")
	}
}

func TestRewardSubscribeCancelClosesChannel(t *testing.T) {
	l := &Ledger{}
	updates, cancel, _, err := l.RewardSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	cancel() // idempotent

	if _, open := <-updates; open {
		t.Fatalf("expected channel to be closed after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	l.publishRewardUpdate(RewardUpdate{Type: events.TypeRewardMinted, ID: 1})
}

func TestRewardStreamHistoryTrimsToLimit(t *testing.T) {
	l := &Ledger{}
	publishTestUpdates(l, rewardStreamHistoryLimit+2)

	_, cancel, backlog, err := l.RewardSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if len(backlog) != rewardStreamHistoryLimit {
		t.Fatalf("backlog length = %d, want %d", len(backlog), rewardStreamHistoryLimit)
	}
	if backlog[0].Sequence != 3 {
		t.Fatalf("oldest retained sequence = %d, want 3", backlog[0].Sequence)
	}
	last := backlog[len(backlog)-1]
	if last.Cursor != fmt.Sprintf("%d", rewardStreamHistoryLimit+2) {
		t.Fatalf("newest cursor = %q", last.Cursor)
	}
}

func TestRewardUpdateDropsWhenSubscriberIsSlow(t *testing.T) {
	l := &Ledger{}
	updates, cancel, _, err := l.RewardSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// Fill the channel buffer and keep publishing; the publisher must not
	// block and history must retain everything.
	publishTestUpdates(l, cap(updates)+10)

	if len(updates) != cap(updates) {
		t.Fatalf("expected a full channel, got %d", len(updates))
	}
	_, cancel2, backlog, err := l.RewardSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	defer cancel2()
	if len(backlog) != cap(updates)+10 {
		t.Fatalf("history length = %d, want %d", len(backlog), cap(updates)+10)
	}
}
