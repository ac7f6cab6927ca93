package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

const rewardsRequestLimit = 1 << 20 // 1 MiB

const defaultNodeTimeout = 10 * time.Second

// rewardsRoutes exposes a typed REST facade over the ledger's JSON-RPC
// surface. The gateway authenticates clients itself and presents its own
// bearer token upstream.
type rewardsRoutes struct {
	target    *url.URL
	client    *http.Client
	timeout   time.Duration
	nodeToken string
	nextID    atomic.Int64
}

type rpcEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type rpcErrorPayload struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcReply struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  json.RawMessage  `json:"result"`
	Error   *rpcErrorPayload `json:"error"`
	status  int
}

type mintRequest struct {
	Caller string `json:"caller"`
	Points uint64 `json:"points"`
}

type mintBatchRequest struct {
	Caller     string   `json:"caller"`
	Points     []uint64 `json:"points"`
	Annotation string   `json:"annotation,omitempty"`
}

type burnRequest struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type updatePointsRequest struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	Points uint64 `json:"points"`
}

type transferRequest struct {
	Caller    string `json:"caller"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	ID        uint64 `json:"id"`
}

func newRewardsRoutes(target *url.URL, nodeToken string, timeout time.Duration) (*rewardsRoutes, error) {
	if target == nil {
		return nil, fmt.Errorf("nil rewards target")
	}
	cloned := *target
	if strings.TrimSpace(cloned.Scheme) == "" {
		return nil, fmt.Errorf("rewards target scheme required")
	}
	if strings.TrimSpace(cloned.Host) == "" {
		return nil, fmt.Errorf("rewards target host required")
	}
	if strings.TrimSpace(cloned.Path) == "" {
		cloned.Path = "/"
	}
	if timeout <= 0 {
		timeout = defaultNodeTimeout
	}
	return &rewardsRoutes{
		target:    &cloned,
		client:    &http.Client{Timeout: timeout + 5*time.Second},
		timeout:   timeout,
		nodeToken: strings.TrimSpace(nodeToken),
	}, nil
}

func (rr *rewardsRoutes) mountRead(r chi.Router) {
	r.Get("/", rr.listRewards)
	r.Get("/journal", rr.getJournal)
	r.Get("/authority", rr.getAuthority)
	r.Get("/{rewardID}", rr.getReward)
}

func (rr *rewardsRoutes) mountWrite(r chi.Router) {
	r.Post("/mint", rr.mint)
	r.Post("/mint-batch", rr.mintBatch)
	r.Post("/burn", rr.burn)
	r.Post("/update-points", rr.updatePoints)
	r.Post("/transfer", rr.transfer)
}

func (rr *rewardsRoutes) mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rr.forward(w, r, "rewards_mint", req)
}

func (rr *rewardsRoutes) mintBatch(w http.ResponseWriter, r *http.Request) {
	var req mintBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rr.forward(w, r, "rewards_mintBatch", req)
}

func (rr *rewardsRoutes) burn(w http.ResponseWriter, r *http.Request) {
	var req burnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rr.forward(w, r, "rewards_burn", req)
}

func (rr *rewardsRoutes) updatePoints(w http.ResponseWriter, r *http.Request) {
	var req updatePointsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rr.forward(w, r, "rewards_updatePoints", req)
}

func (rr *rewardsRoutes) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rr.forward(w, r, "rewards_transfer", req)
}

func (rr *rewardsRoutes) getReward(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(strings.TrimSpace(chi.URLParam(r, "rewardID")), 10, 64)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("invalid reward id: %w", err))
		return
	}
	ctx, cancel := rr.context(r.Context())
	defer cancel()

	reply, err := rr.callRPC(ctx, "rewards_get", map[string]uint64{"id": id})
	if err != nil {
		writeInternalError(w, fmt.Errorf("rewards_get failed: %w", err))
		return
	}
	if reply.Error != nil {
		writeRPCError(w, reply)
		return
	}
	var result struct {
		Found  bool            `json:"found"`
		Reward json.RawMessage `json:"reward"`
	}
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		writeInternalError(w, fmt.Errorf("decode reward response: %w", err))
		return
	}
	if !result.Found {
		writeJSONError(w, http.StatusNotFound, errors.New("reward not found"))
		return
	}
	writeJSON(w, http.StatusOK, result.Reward)
}

func (rr *rewardsRoutes) listRewards(w http.ResponseWriter, r *http.Request) {
	params := map[string]interface{}{}
	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		start, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid start: %w", err))
			return
		}
		params["startId"] = start
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid limit: %w", err))
			return
		}
		params["limit"] = limit
	}
	rr.forward(w, r, "rewards_list", params)
}

func (rr *rewardsRoutes) getJournal(w http.ResponseWriter, r *http.Request) {
	params := map[string]interface{}{}
	if raw := strings.TrimSpace(r.URL.Query().Get("afterSeq")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid afterSeq: %w", err))
			return
		}
		params["afterSeq"] = after
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid limit: %w", err))
			return
		}
		params["limit"] = limit
	}
	rr.forward(w, r, "rewards_journal", params)
}

func (rr *rewardsRoutes) getAuthority(w http.ResponseWriter, r *http.Request) {
	rr.forward(w, r, "rewards_authority", nil)
}

// forward performs the upstream call and relays the result or error without
// reshaping it.
func (rr *rewardsRoutes) forward(w http.ResponseWriter, r *http.Request, method string, params interface{}) {
	ctx, cancel := rr.context(r.Context())
	defer cancel()

	reply, err := rr.callRPC(ctx, method, params)
	if err != nil {
		writeInternalError(w, fmt.Errorf("%s failed: %w", method, err))
		return
	}
	if reply.Error != nil {
		writeRPCError(w, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply.Result)
}

func (rr *rewardsRoutes) callRPC(ctx context.Context, method string, params interface{}) (*rpcReply, error) {
	envelope := rpcEnvelope{
		JSONRPC: "2.0",
		Method:  method,
		ID:      rr.nextID.Add(1),
	}
	if params != nil {
		envelope.Params = []interface{}{params}
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rr.target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rr.nodeToken != "" {
		req.Header.Set("Authorization", "Bearer "+rr.nodeToken)
	}

	resp, err := rr.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform rpc request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, rewardsRequestLimit))
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	reply := &rpcReply{}
	if err := json.Unmarshal(data, reply); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	reply.status = resp.StatusCode
	return reply, nil
}

func (rr *rewardsRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := rr.timeout
	if timeout <= 0 {
		timeout = defaultNodeTimeout
	}
	return context.WithTimeout(parent, timeout)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, rewardsRequestLimit))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeBadRequest(w, errors.New("request body is empty"))
		return false
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

// writeRPCError relays the ledger's error verbatim, reusing the upstream
// HTTP status when it carried one.
func writeRPCError(w http.ResponseWriter, reply *rpcReply) {
	status := reply.status
	if status == 0 || status == http.StatusOK {
		status = http.StatusBadGateway
	}
	payload := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    reply.Error.Code,
			"message": reply.Error.Message,
		},
	}
	if reply.Error.Data != nil {
		payload["error"].(map[string]interface{})["data"] = reply.Error.Data
	}
	body, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, fmt.Errorf("marshal error payload: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, _ = w.Write(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	_, _ = w.Write(payload)
}
