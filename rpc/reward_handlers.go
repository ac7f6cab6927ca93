package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rewardledger/core/journal"
	"rewardledger/crypto"
	"rewardledger/native/rewards"
)

type mintParams struct {
	Caller string `json:"caller"`
	Points uint64 `json:"points"`
}

type mintBatchParams struct {
	Caller     string   `json:"caller"`
	Points     []uint64 `json:"points"`
	Annotation string   `json:"annotation"`
}

type burnParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type updatePointsParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	Points uint64 `json:"points"`
}

type transferParams struct {
	Caller    string `json:"caller"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	ID        uint64 `json:"id"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type senderIDParams struct {
	ID     uint64 `json:"id"`
	Sender string `json:"sender"`
}

type hasPointsParams struct {
	ID uint64 `json:"id"`
	N  uint64 `json:"n"`
}

type listParams struct {
	StartID uint64 `json:"startId"`
	Limit   int    `json:"limit"`
}

type journalParams struct {
	AfterSeq uint64 `json:"afterSeq"`
	Limit    int    `json:"limit"`
}

type mintResult struct {
	ID uint64 `json:"id"`
}

type mintBatchResult struct {
	IDs       []uint64 `json:"ids"`
	Requested int      `json:"requested"`
	Minted    int      `json:"minted"`
	Skipped   int      `json:"skipped"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

type rewardJSON struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	Points     uint64 `json:"points"`
	Burned     bool   `json:"burned"`
	Annotation string `json:"annotation,omitempty"`
}

type getResult struct {
	Found  bool        `json:"found"`
	Reward *rewardJSON `json:"reward,omitempty"`
}

type ownerResult struct {
	Found bool   `json:"found"`
	Owner string `json:"owner,omitempty"`
}

type pointsResult struct {
	Found  bool   `json:"found"`
	Points uint64 `json:"points"`
}

type burnedResult struct {
	Found  bool `json:"found"`
	Burned bool `json:"burned"`
}

type annotationResult struct {
	Found      bool   `json:"found"`
	Annotation string `json:"annotation"`
}

type existsResult struct {
	Exists bool `json:"exists"`
}

type lastIDResult struct {
	LastID uint64 `json:"lastId"`
}

type totalMintedResult struct {
	Total uint64 `json:"total"`
}

type validResult struct {
	Valid bool `json:"valid"`
}

type allowedResult struct {
	Allowed bool `json:"allowed"`
}

type listResult struct {
	Rewards     []rewardJSON `json:"rewards"`
	NextStartID uint64       `json:"nextStartId,omitempty"`
}

type journalEntryJSON struct {
	Seq        uint64   `json:"seq"`
	Op         string   `json:"op"`
	Caller     string   `json:"caller"`
	Recipient  string   `json:"recipient,omitempty"`
	IDs        []uint64 `json:"ids,omitempty"`
	Points     []uint64 `json:"points,omitempty"`
	Annotation string   `json:"annotation,omitempty"`
	StateRoot  string   `json:"stateRoot"`
	CreatedAt  int64    `json:"createdAt"`
}

type journalResult struct {
	Entries []journalEntryJSON `json:"entries"`
	LastSeq uint64             `json:"lastSeq"`
}

type authorityResult struct {
	Authority string `json:"authority"`
}

func (s *Server) decodeParams(w http.ResponseWriter, req *RPCRequest, method string, dst interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, method+" expects a single parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func parseAddressParam(field, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("%s address required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s address: %w", field, err)
	}
	return addr.Word(), nil
}

func formatAddress(word [20]byte) string {
	if word == ([20]byte{}) {
		return ""
	}
	return crypto.AddressFromWord(word).String()
}

// writeRewardError maps ledger sentinels onto HTTP statuses while carrying
// the domain error code through the JSON-RPC error object.
func writeRewardError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	if domainCode, ok := rewards.ErrorCode(err); ok {
		code = domainCode
		switch {
		case errors.Is(err, rewards.ErrNotAuthority):
			status = http.StatusForbidden
			message = "not_authority"
		case errors.Is(err, rewards.ErrNotOwner):
			status = http.StatusForbidden
			message = "not_owner"
		case errors.Is(err, rewards.ErrInvalidRecipient):
			status = http.StatusBadRequest
			message = "invalid_recipient"
		case errors.Is(err, rewards.ErrInvalidPoints):
			status = http.StatusBadRequest
			message = "invalid_points"
		case errors.Is(err, rewards.ErrBatchSize):
			status = http.StatusBadRequest
			message = "invalid_batch_size"
		case errors.Is(err, rewards.ErrAnnotationLength):
			status = http.StatusBadRequest
			message = "invalid_annotation"
		case errors.Is(err, rewards.ErrInsufficientPoints):
			status = http.StatusConflict
			message = "insufficient_points"
		case errors.Is(err, rewards.ErrAlreadyBurned):
			status = http.StatusConflict
			message = "already_burned"
		}
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params mintParams
	if !s.decodeParams(w, req, "rewards_mint", &params) {
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := s.ledger.Mint(caller, params.Points)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, mintResult{ID: id})
}

func (s *Server) handleMintBatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params mintBatchParams
	if !s.decodeParams(w, req, "rewards_mintBatch", &params) {
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ids, err := s.ledger.MintBatch(caller, params.Points, params.Annotation)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, mintBatchResult{
		IDs:       ids,
		Requested: len(params.Points),
		Minted:    len(ids),
		Skipped:   len(params.Points) - len(ids),
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params burnParams
	if !s.decodeParams(w, req, "rewards_burn", &params) {
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.ledger.Burn(caller, params.ID); err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleUpdatePoints(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params updatePointsParams
	if !s.decodeParams(w, req, "rewards_updatePoints", &params) {
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.ledger.UpdatePoints(caller, params.ID, params.Points); err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params transferParams
	if !s.decodeParams(w, req, "rewards_transfer", &params) {
		return
	}
	caller, err := parseAddressParam("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	sender, err := parseAddressParam("sender", params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recipient, err := parseAddressParam("recipient", params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.ledger.Transfer(caller, sender, recipient, params.ID); err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if !s.decodeParams(w, req, "rewards_get", &params) {
		return
	}
	reward, ok, err := s.ledger.Get(params.ID)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, getResult{Found: false})
		return
	}
	payload := rewardJSONFrom(reward)
	writeResult(w, req.ID, getResult{Found: true, Reward: &payload})
}

func (s *Server) handleOwnerOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if !s.decodeParams(w, req, "rewards_ownerOf", &params) {
		return
	}
	owner, ok, err := s.ledger.OwnerOf(params.ID)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, ownerResult{Found: false})
		return
	}
	writeResult(w, req.ID, ownerResult{Found: true, Owner: formatAddress(owner)})
}

func (s *Server) handlePointsOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if !s.decodeParams(w, req, "rewards_pointsOf", &params) {
		return
	}
	points, ok, err := s.ledger.PointsOf(params.ID)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, pointsResult{Found: ok, Points: points})
}

func (s *Server) handleIsBurned(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if !s.decodeParams(w, req, "rewards_isBurned", &params) {
		return
	}
	burned, ok, err := s.ledger.IsBurned(params.ID)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, burnedResult{Found: ok, Burned: burned})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if !s.decodeParams(w, req, "rewards_exists", &params) {
		return
	}
	exists, err := s.ledger.Exists(params.ID)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, existsResult{Exists: exists})
}

func (s *Server) handleAnnotationOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if !s.decodeParams(w, req, "rewards_annotationOf", &params) {
		return
	}
	annotation, ok, err := s.ledger.AnnotationOf(params.ID)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, annotationResult{Found: ok, Annotation: annotation})
}

func (s *Server) handleLastID(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	last, err := s.ledger.LastID()
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lastIDResult{LastID: last})
}

func (s *Server) handleTotalMinted(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	total, err := s.ledger.TotalMinted()
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, totalMintedResult{Total: total})
}

func (s *Server) handleIsValid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if !s.decodeParams(w, req, "rewards_isValid", &params) {
		return
	}
	valid, err := s.ledger.IsValid(params.ID)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, validResult{Valid: valid})
}

func (s *Server) handleCanTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params senderIDParams
	if !s.decodeParams(w, req, "rewards_canTransfer", &params) {
		return
	}
	sender, err := parseAddressParam("sender", params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	allowed, err := s.ledger.CanTransfer(params.ID, sender)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowedResult{Allowed: allowed})
}

func (s *Server) handleCanBurn(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params senderIDParams
	if !s.decodeParams(w, req, "rewards_canBurn", &params) {
		return
	}
	sender, err := parseAddressParam("sender", params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	allowed, err := s.ledger.CanBurn(params.ID, sender)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowedResult{Allowed: allowed})
}

func (s *Server) handleHasAtLeastPoints(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params hasPointsParams
	if !s.decodeParams(w, req, "rewards_hasAtLeastPoints", &params) {
		return
	}
	allowed, err := s.ledger.HasAtLeastPoints(params.ID, params.N)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowedResult{Allowed: allowed})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params := listParams{}
	if len(req.Params) > 0 {
		if !s.decodeParams(w, req, "rewards_list", &params) {
			return
		}
	}
	page, next, err := s.ledger.List(params.StartID, params.Limit)
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	out := make([]rewardJSON, 0, len(page))
	for _, reward := range page {
		out = append(out, rewardJSONFrom(reward))
	}
	writeResult(w, req.ID, listResult{Rewards: out, NextStartID: next})
}

func (s *Server) handleAuthority(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	authority, ok, err := s.ledger.Authority()
	if err != nil {
		writeRewardError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "authority not initialised", nil)
		return
	}
	writeResult(w, req.ID, authorityResult{Authority: formatAddress(authority)})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params := journalParams{}
	if len(req.Params) > 0 {
		if !s.decodeParams(w, req, "rewards_journal", &params) {
			return
		}
	}
	entries, err := s.ledger.JournalEntries(params.AfterSeq, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "journal read failed", err.Error())
		return
	}
	out := make([]journalEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, journalEntryJSONFrom(entry))
	}
	writeResult(w, req.ID, journalResult{Entries: out, LastSeq: s.ledger.JournalLastSeq()})
}

func rewardJSONFrom(reward *rewards.Reward) rewardJSON {
	if reward == nil {
		return rewardJSON{}
	}
	return rewardJSON{
		ID:         reward.ID,
		Owner:      formatAddress(reward.Owner),
		Points:     reward.Points,
		Burned:     reward.Burned,
		Annotation: reward.Annotation,
	}
}

func journalEntryJSONFrom(entry *journal.Entry) journalEntryJSON {
	if entry == nil {
		return journalEntryJSON{}
	}
	return journalEntryJSON{
		Seq:        entry.Seq,
		Op:         entry.Op,
		Caller:     formatAddress(entry.Caller),
		Recipient:  formatAddress(entry.Recipient),
		IDs:        append([]uint64(nil), entry.IDs...),
		Points:     append([]uint64(nil), entry.Points...),
		Annotation: entry.Annotation,
		StateRoot:  "0x" + hex.EncodeToString(entry.StateRoot[:]),
		CreatedAt:  entry.CreatedAt.Unix(),
	}
}
