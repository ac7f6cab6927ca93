package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"rewardledger/core/events"
	"rewardledger/observability/metrics"
)

const rewardStreamHistoryLimit = 2048

// RewardUpdate captures one committed ledger mutation for stream subscribers.
// Only the fields relevant to the update's Type are populated.
type RewardUpdate struct {
	Sequence   uint64
	Cursor     string
	Type       string
	ID         uint64
	Owner      [20]byte
	From       [20]byte
	To         [20]byte
	Actor      [20]byte
	Points     uint64
	OldPoints  uint64
	Requested  int
	Skipped    int
	MintedIDs  []uint64
	Annotation string
	Timestamp  int64
}

func cloneRewardUpdate(update RewardUpdate) RewardUpdate {
	cloned := update
	if len(update.MintedIDs) > 0 {
		cloned.MintedIDs = append([]uint64(nil), update.MintedIDs...)
	}
	return cloned
}

// rewardUpdateFromEvent flattens a typed ledger event into a stream update.
func rewardUpdateFromEvent(evt events.Event, timestamp int64) (RewardUpdate, bool) {
	switch e := evt.(type) {
	case events.RewardMinted:
		return RewardUpdate{
			Type:       e.EventType(),
			ID:         e.ID,
			Owner:      e.Owner,
			Points:     e.Points,
			Annotation: e.Annotation,
			Timestamp:  timestamp,
		}, true
	case events.RewardBatchMinted:
		return RewardUpdate{
			Type:       e.EventType(),
			Actor:      e.Authority,
			Requested:  e.Requested,
			Skipped:    e.Skipped,
			MintedIDs:  append([]uint64(nil), e.MintedIDs...),
			Annotation: e.Annotation,
			Timestamp:  timestamp,
		}, true
	case events.RewardBurned:
		return RewardUpdate{
			Type:      e.EventType(),
			ID:        e.ID,
			Owner:     e.Owner,
			Timestamp: timestamp,
		}, true
	case events.RewardPointsUpdated:
		return RewardUpdate{
			Type:      e.EventType(),
			ID:        e.ID,
			Actor:     e.Caller,
			OldPoints: e.OldPoints,
			Points:    e.NewPoints,
			Timestamp: timestamp,
		}, true
	case events.RewardTransferred:
		return RewardUpdate{
			Type:      e.EventType(),
			ID:        e.ID,
			From:      e.From,
			To:        e.To,
			Timestamp: timestamp,
		}, true
	default:
		return RewardUpdate{}, false
	}
}

func (l *Ledger) publishRewardUpdate(update RewardUpdate) {
	if l == nil || update.Type == "" {
		return
	}

	l.streamMu.Lock()
	if l.streamSubs == nil {
		l.streamSubs = make(map[uint64]chan RewardUpdate)
	}
	l.streamSeq++
	update.Sequence = l.streamSeq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	stored := cloneRewardUpdate(update)
	l.streamHistory = append(l.streamHistory, stored)
	if len(l.streamHistory) > rewardStreamHistoryLimit {
		excess := len(l.streamHistory) - rewardStreamHistoryLimit
		trimmed := make([]RewardUpdate, rewardStreamHistoryLimit)
		copy(trimmed, l.streamHistory[excess:])
		l.streamHistory = trimmed
	}
	subscribers := make([]chan RewardUpdate, 0, len(l.streamSubs))
	for _, ch := range l.streamSubs {
		subscribers = append(subscribers, ch)
	}
	l.streamMu.Unlock()

	broadcast := cloneRewardUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
		}
	}
}

// publishEvents fans committed engine events out to the stream. The supplied
// timestamp travels with every frame so subscribers and the journal agree.
func (l *Ledger) publishEvents(evts []events.Event, timestamp int64) {
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		update, ok := rewardUpdateFromEvent(evt, timestamp)
		if !ok {
			continue
		}
		l.publishRewardUpdate(update)
	}
}

// RewardSubscribe registers a subscriber for committed mutation updates
// starting after the supplied cursor. It returns the live channel, a cancel
// function, and the backlog of history entries newer than the cursor.
func (l *Ledger) RewardSubscribe(ctx context.Context, cursor string) (<-chan RewardUpdate, func(), []RewardUpdate, error) {
	if l == nil {
		return nil, nil, nil, fmt.Errorf("ledger not initialised")
	}
	updates := make(chan RewardUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	l.streamMu.Lock()
	if l.streamSubs == nil {
		l.streamSubs = make(map[uint64]chan RewardUpdate)
	}
	id := l.streamNextID
	l.streamNextID++
	l.streamSubs[id] = updates
	subscribed := len(l.streamSubs)
	history := make([]RewardUpdate, len(l.streamHistory))
	copy(history, l.streamHistory)
	l.streamMu.Unlock()
	metrics.Rewards().SetStreamSubscribers(subscribed)

	backlog := make([]RewardUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneRewardUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.streamMu.Lock()
			sub, ok := l.streamSubs[id]
			if ok {
				delete(l.streamSubs, id)
				close(sub)
			}
			remaining := len(l.streamSubs)
			l.streamMu.Unlock()
			metrics.Rewards().SetStreamSubscribers(remaining)
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
