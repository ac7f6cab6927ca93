package rewardscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"nhooyr.io/websocket"

	"rewardledger/core/events"
	"rewardledger/integrations/webhooks"
)

// FeedFrame is the JSON shape the node writes on its rewards WebSocket feed.
type FeedFrame struct {
	Sequence   uint64   `json:"sequence"`
	Cursor     string   `json:"cursor"`
	Type       string   `json:"type"`
	ID         uint64   `json:"id,omitempty"`
	Owner      string   `json:"owner,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Actor      string   `json:"actor,omitempty"`
	Points     uint64   `json:"points,omitempty"`
	OldPoints  uint64   `json:"oldPoints,omitempty"`
	Requested  int      `json:"requested,omitempty"`
	Skipped    int      `json:"skipped,omitempty"`
	MintedIDs  []uint64 `json:"mintedIds,omitempty"`
	Annotation string   `json:"annotation,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// Indexer tails the node feed and mirrors it into SQL. The checkpoint row is
// written in the same transaction as each frame, so a restart resumes from
// the last applied cursor without gaps.
type Indexer struct {
	db         *gorm.DB
	log        *slog.Logger
	endpoint   string
	reconnect  time.Duration
	dispatcher *webhooks.Dispatcher
}

func NewIndexer(db *gorm.DB, cfg Config, log *slog.Logger) (*Indexer, error) {
	if log == nil {
		log = slog.Default()
	}
	reconnect := cfg.ReconnectDelay
	if reconnect <= 0 {
		reconnect = defaults().ReconnectDelay
	}
	idx := &Indexer{
		db:        db,
		log:       log.With("component", "rewardscan"),
		endpoint:  cfg.NodeWS,
		reconnect: reconnect,
	}
	if cfg.Webhook.Enabled() {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret), webhooks.WithLogger(idx.log))
		if err != nil {
			return nil, fmt.Errorf("webhook dispatcher: %w", err)
		}
		idx.dispatcher = dispatcher
	}
	return idx, nil
}

// Close stops the webhook dispatcher, if one is configured.
func (i *Indexer) Close() {
	if i.dispatcher != nil {
		i.dispatcher.Close()
	}
}

// Run streams frames until the context is cancelled, redialling after
// transient failures.
func (i *Indexer) Run(ctx context.Context) error {
	for {
		if err := i.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.log.Error("feed stream interrupted", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.reconnect):
		}
	}
}

func (i *Indexer) stream(ctx context.Context) error {
	cursor, err := i.LastCursor()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	target, err := i.dialURL(cursor)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	i.log.Info("feed connected", "endpoint", i.endpoint, "cursor", cursor)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}
		var frame FeedFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			i.log.Error("discarding malformed frame", "error", err)
			continue
		}
		if err := i.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

// handleFrame stores the frame and forwards it to the webhook receiver when
// it was not a replay.
func (i *Indexer) handleFrame(ctx context.Context, frame FeedFrame) error {
	applied, err := i.Apply(ctx, frame)
	if err != nil {
		return fmt.Errorf("apply frame seq %d: %w", frame.Sequence, err)
	}
	if applied && i.dispatcher != nil {
		if err := i.dispatcher.Enqueue(webhooks.EventType(frame.Type), frame); err != nil {
			i.log.Error("webhook enqueue failed", "seq", frame.Sequence, "error", err)
		}
	}
	return nil
}

func (i *Indexer) dialURL(cursor string) (string, error) {
	parsed, err := neturl.Parse(i.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse feed endpoint: %w", err)
	}
	if cursor != "" {
		query := parsed.Query()
		query.Set("cursor", cursor)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// LastCursor returns the cursor of the last applied frame, or "" when the
// database is empty and the feed should start from the beginning.
func (i *Indexer) LastCursor() (string, error) {
	var checkpoint Checkpoint
	err := i.db.First(&checkpoint, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return checkpoint.Cursor, nil
}

// Apply stores one frame: the event row, the reward-row mutation it implies
// and the checkpoint move happen in a single transaction. Frames whose
// sequence was already stored are skipped and reported as not applied, which
// makes replays after a reconnect harmless.
func (i *Indexer) Apply(ctx context.Context, frame FeedFrame) (bool, error) {
	applied := false
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := eventFromFrame(frame)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event)
		if res.Error != nil {
			return fmt.Errorf("store event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := applyReward(tx, frame); err != nil {
			return err
		}
		checkpoint := Checkpoint{ID: 1, Cursor: frame.Cursor}
		if err := tx.Save(&checkpoint).Error; err != nil {
			return fmt.Errorf("store checkpoint: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func applyReward(tx *gorm.DB, frame FeedFrame) error {
	switch frame.Type {
	case events.TypeRewardMinted:
		reward := Reward{
			ID:         frame.ID,
			Owner:      frame.Owner,
			Points:     frame.Points,
			Annotation: frame.Annotation,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&reward).Error; err != nil {
			return fmt.Errorf("upsert reward %d: %w", frame.ID, err)
		}
	case events.TypeRewardBatchMinted:
		// Summary frame only; the per-item mint frames carry the rows.
	case events.TypeRewardBurned:
		if err := tx.Model(&Reward{}).Where("id = ?", frame.ID).Update("burned", true).Error; err != nil {
			return fmt.Errorf("mark reward %d burned: %w", frame.ID, err)
		}
	case events.TypeRewardPointsUpdated:
		if err := tx.Model(&Reward{}).Where("id = ?", frame.ID).Update("points", frame.Points).Error; err != nil {
			return fmt.Errorf("update reward %d points: %w", frame.ID, err)
		}
	case events.TypeRewardTransferred:
		if err := tx.Model(&Reward{}).Where("id = ?", frame.ID).Update("owner", frame.To).Error; err != nil {
			return fmt.Errorf("move reward %d: %w", frame.ID, err)
		}
	default:
		// Unknown frame types keep their event row so nothing is lost.
	}
	return nil
}

func eventFromFrame(frame FeedFrame) Event {
	return Event{
		Sequence:   frame.Sequence,
		Type:       frame.Type,
		RewardID:   frame.ID,
		Owner:      frame.Owner,
		FromAddr:   frame.From,
		ToAddr:     frame.To,
		Actor:      frame.Actor,
		Points:     frame.Points,
		OldPoints:  frame.OldPoints,
		Requested:  frame.Requested,
		Skipped:    frame.Skipped,
		MintedIDs:  joinIDs(frame.MintedIDs),
		Annotation: frame.Annotation,
		Timestamp:  frame.Timestamp,
	}
}

func joinIDs(ids []uint64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for idx, id := range ids {
		parts[idx] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}
