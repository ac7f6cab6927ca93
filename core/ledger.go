package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"rewardledger/core/events"
	"rewardledger/core/journal"
	"rewardledger/core/state"
	"rewardledger/native/rewards"
	"rewardledger/observability/metrics"
	"rewardledger/storage"
	"rewardledger/storage/trie"
)

// Ledger is the single authority over reward state. It owns the state trie,
// the domain engine, the operation journal, and the event stream, and
// serializes every mutation behind one mutex. A mutation either commits in
// full (trie, journal, stream) or leaves the ledger byte-for-byte unchanged.
type Ledger struct {
	db      storage.Database
	trie    *trie.Trie
	state   *state.Manager
	engine  *rewards.Engine
	journal *journal.Journal

	mu            sync.Mutex
	committedRoot common.Hash
	pending       []events.Event

	streamMu      sync.Mutex
	streamSeq     uint64
	streamNextID  uint64
	streamSubs    map[uint64]chan RewardUpdate
	streamHistory []RewardUpdate
}

// ledgerEmitter buffers engine events until the surrounding mutation commits.
// Rolled-back mutations never reach subscribers.
type ledgerEmitter struct {
	l *Ledger
}

func (e ledgerEmitter) Emit(evt events.Event) {
	if e.l == nil || evt == nil {
		return
	}
	e.l.pending = append(e.l.pending, evt)
}

// NewLedger opens the reward ledger on top of the provided database. The
// state root is recovered from the journal tip, so the journal is the single
// source of truth for what has been committed. The configured authority is
// written on first boot and verified against stored state on every later one.
func NewLedger(db storage.Database, authority [20]byte) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger requires a database")
	}
	if err := ensureSchemaVersion(db); err != nil {
		return nil, err
	}
	jrnl := journal.NewJournal(db)
	var root []byte
	if seq := jrnl.LastSeq(); seq > 0 {
		entry, ok, err := jrnl.Get(seq)
		if err != nil {
			return nil, fmt.Errorf("load journal tip: %w", err)
		}
		if ok {
			root = entry.StateRoot[:]
		}
	}
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, err
	}
	manager := state.NewManager(stateTrie)
	engine := rewards.NewEngine()
	engine.SetState(manager)

	l := &Ledger{
		db:            db,
		trie:          stateTrie,
		state:         manager,
		engine:        engine,
		journal:       jrnl,
		committedRoot: stateTrie.Root(),
	}
	engine.SetEmitter(ledgerEmitter{l: l})

	if err := manager.InitRewardAuthority(authority); err != nil {
		return nil, err
	}
	// First boot stages the authority record; persist it so a crash before
	// the first mutation does not lose it.
	if pending := stateTrie.Hash(); pending != l.committedRoot {
		committed, err := stateTrie.Commit(l.committedRoot, jrnl.LastSeq())
		if err != nil {
			return nil, fmt.Errorf("persist authority: %w", err)
		}
		l.committedRoot = committed
	}
	metrics.Rewards().SetJournalSequence(jrnl.LastSeq())
	return l, nil
}

// schemaVersion identifies the on-disk layout (trie plus journal keyspace).
// Bump it when the stored structure changes incompatibly.
const schemaVersion uint64 = 1

var schemaVersionKey = []byte("meta/schema")

// ensureSchemaVersion stamps fresh stores with the current layout version and
// refuses stores written by an incompatible binary.
func ensureSchemaVersion(db storage.Database) error {
	data, err := db.Get(schemaVersionKey)
	if err != nil || len(data) == 0 {
		encoded, encErr := rlp.EncodeToBytes(schemaVersion)
		if encErr != nil {
			return encErr
		}
		return db.Put(schemaVersionKey, encoded)
	}
	var stored uint64
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return fmt.Errorf("decode schema version: %w", err)
	}
	if stored != schemaVersion {
		return fmt.Errorf("schema version mismatch: on-disk=%d expected=%d", stored, schemaVersion)
	}
	return nil
}

// StateRoot returns the root hash of the last committed state.
func (l *Ledger) StateRoot() common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committedRoot
}

// Authority returns the minting authority recorded in ledger state.
func (l *Ledger) Authority() ([20]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.RewardAuthority()
}

// rollback discards all staged writes and buffered events from a failed
// mutation and records the failure.
func (l *Ledger) rollback(op string, cause error) {
	l.pending = l.pending[:0]
	code, _ := rewards.ErrorCode(cause)
	metrics.Rewards().ObserveMutationFailure(op, code)
	if err := l.trie.Reset(l.committedRoot); err != nil {
		slog.Error("reward ledger: state reset failed",
			"op", op,
			"root", l.committedRoot.Hex(),
			"error", err)
	}
}

// finalize commits the staged trie writes, appends the journal entry, and
// publishes the buffered events. The trie commit and the journal entry share
// one sequence number so each journal record names the state version it
// produced.
func (l *Ledger) finalize(entry *journal.Entry) error {
	seq := l.journal.LastSeq() + 1
	newRoot, err := l.trie.Commit(l.committedRoot, seq)
	if err != nil {
		l.rollback(entry.Op, err)
		return fmt.Errorf("commit state: %w", err)
	}
	entry.StateRoot = newRoot
	entry.CreatedAt = time.Now().UTC()
	appended, err := l.journal.Append(entry)
	if err != nil {
		l.rollback(entry.Op, err)
		return fmt.Errorf("append journal: %w", err)
	}
	l.committedRoot = newRoot
	evts := l.pending
	l.pending = nil
	l.publishEvents(evts, entry.CreatedAt.Unix())
	metrics.Rewards().SetJournalSequence(appended)
	return nil
}

// Mint issues a new reward owned by the caller. The caller must be the
// ledger authority.
func (l *Ledger) Mint(caller [20]byte, points uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := time.Now()

	id, err := l.engine.Mint(caller, points)
	if err != nil {
		l.rollback(journal.OpMint, err)
		return 0, err
	}
	entry := &journal.Entry{
		Op:     journal.OpMint,
		Caller: caller,
		IDs:    []uint64{id},
		Points: []uint64{points},
	}
	if err := l.finalize(entry); err != nil {
		return 0, err
	}
	m := metrics.Rewards()
	m.ObserveMutation(journal.OpMint, time.Since(start).Seconds())
	m.AddMinted(1)
	return id, nil
}

// MintBatch issues up to MaxBatchSize rewards in one atomic invocation.
// Items that fail per-item validation are skipped; the journal records the
// requested point values alongside the ids actually issued.
func (l *Ledger) MintBatch(caller [20]byte, points []uint64, annotation string) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := time.Now()

	ids, err := l.engine.MintBatch(caller, points, annotation)
	if err != nil {
		l.rollback(journal.OpMintBatch, err)
		return nil, err
	}
	entry := &journal.Entry{
		Op:         journal.OpMintBatch,
		Caller:     caller,
		IDs:        ids,
		Points:     points,
		Annotation: annotation,
	}
	if err := l.finalize(entry); err != nil {
		return nil, err
	}
	m := metrics.Rewards()
	m.ObserveMutation(journal.OpMintBatch, time.Since(start).Seconds())
	m.AddMinted(len(ids))
	m.AddBatchSkipped(len(points) - len(ids))
	return ids, nil
}

// Burn retires a reward permanently. Only the current owner may burn.
func (l *Ledger) Burn(caller [20]byte, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := time.Now()

	if err := l.engine.Burn(caller, id); err != nil {
		l.rollback(journal.OpBurn, err)
		return err
	}
	entry := &journal.Entry{
		Op:     journal.OpBurn,
		Caller: caller,
		IDs:    []uint64{id},
	}
	if err := l.finalize(entry); err != nil {
		return err
	}
	m := metrics.Rewards()
	m.ObserveMutation(journal.OpBurn, time.Since(start).Seconds())
	m.IncBurned()
	return nil
}

// UpdatePoints overwrites a reward's point balance. The reward owner and the
// ledger authority are both allowed to call it.
func (l *Ledger) UpdatePoints(caller [20]byte, id uint64, points uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := time.Now()

	if err := l.engine.UpdatePoints(caller, id, points); err != nil {
		l.rollback(journal.OpUpdatePoints, err)
		return err
	}
	entry := &journal.Entry{
		Op:     journal.OpUpdatePoints,
		Caller: caller,
		IDs:    []uint64{id},
		Points: []uint64{points},
	}
	if err := l.finalize(entry); err != nil {
		return err
	}
	metrics.Rewards().ObserveMutation(journal.OpUpdatePoints, time.Since(start).Seconds())
	return nil
}

// Transfer moves reward ownership from sender to recipient. The caller must
// be the sender and the sender must own the reward.
func (l *Ledger) Transfer(caller, sender, recipient [20]byte, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := time.Now()

	if err := l.engine.Transfer(caller, sender, recipient, id); err != nil {
		l.rollback(journal.OpTransfer, err)
		return err
	}
	entry := &journal.Entry{
		Op:        journal.OpTransfer,
		Caller:    caller,
		Recipient: recipient,
		IDs:       []uint64{id},
	}
	if err := l.finalize(entry); err != nil {
		return err
	}
	metrics.Rewards().ObserveMutation(journal.OpTransfer, time.Since(start).Seconds())
	return nil
}

// Queries delegate to the engine under the ledger lock so readers observe
// only fully committed invocations.

func (l *Ledger) Get(id uint64) (*rewards.Reward, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Get(id)
}

func (l *Ledger) OwnerOf(id uint64) ([20]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.OwnerOf(id)
}

func (l *Ledger) PointsOf(id uint64) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.PointsOf(id)
}

func (l *Ledger) IsBurned(id uint64) (bool, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.IsBurned(id)
}

func (l *Ledger) AnnotationOf(id uint64) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.AnnotationOf(id)
}

func (l *Ledger) Exists(id uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Exists(id)
}

func (l *Ledger) LastID() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.LastID()
}

func (l *Ledger) TotalMinted() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.TotalMinted()
}

func (l *Ledger) IsValid(id uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.IsValid(id)
}

func (l *Ledger) CanTransfer(id uint64, sender [20]byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.CanTransfer(id, sender)
}

func (l *Ledger) CanBurn(id uint64, sender [20]byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.CanBurn(id, sender)
}

func (l *Ledger) HasAtLeastPoints(id uint64, n uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.HasAtLeastPoints(id, n)
}

func (l *Ledger) List(startID uint64, limit int) ([]*rewards.Reward, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.List(startID, limit)
}

// JournalLastSeq returns the sequence of the most recent journal entry.
func (l *Ledger) JournalLastSeq() uint64 {
	return l.journal.LastSeq()
}

// JournalEntries returns committed journal entries after the given sequence.
func (l *Ledger) JournalEntries(afterSeq uint64, limit int) ([]*journal.Entry, error) {
	return l.journal.List(afterSeq, limit)
}
