package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"rewardledger/core"

	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
)

func (s *Server) handleRewardsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamRewards(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamRewards(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.ledger.RewardSubscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, update := range backlog {
		if err := writeRewardUpdate(ctx, conn, update); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeRewardUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeRewardUpdate(ctx context.Context, conn *websocket.Conn, update core.RewardUpdate) error {
	payload := rewardUpdatePayloadFrom(update)
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

type rewardUpdatePayload struct {
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

func rewardUpdatePayloadFrom(update core.RewardUpdate) rewardUpdatePayload {
	return rewardUpdatePayload{
		Sequence:   update.Sequence,
		Cursor:     update.Cursor,
		Type:       update.Type,
		ID:         update.ID,
		Owner:      formatAddress(update.Owner),
		From:       formatAddress(update.From),
		To:         formatAddress(update.To),
		Actor:      formatAddress(update.Actor),
		Points:     update.Points,
		OldPoints:  update.OldPoints,
		Requested:  update.Requested,
		Skipped:    update.Skipped,
		MintedIDs:  append([]uint64(nil), update.MintedIDs...),
		Annotation: update.Annotation,
		Timestamp:  update.Timestamp,
	}
}
