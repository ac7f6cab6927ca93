package journal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"rewardledger/storage"
)

const (
	journalSeqKey      = "journal/seq"
	journalEntryKeyFmt = "journal/%020d"
	defaultPageLimit   = 200
)

// Operation names recorded in the journal.
const (
	OpMint         = "mint"
	OpMintBatch    = "mint_batch"
	OpBurn         = "burn"
	OpUpdatePoints = "update_points"
	OpTransfer     = "transfer"
)

// Entry records one committed ledger mutation. Entries are append-only and
// sequenced from 1.
type Entry struct {
	Seq        uint64
	Op         string
	Caller     [20]byte
	Recipient  [20]byte
	IDs        []uint64
	Points     []uint64
	Annotation string
	StateRoot  [32]byte
	CreatedAt  time.Time
}

// Clone creates a deep copy of the entry so callers cannot mutate stored
// state.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.IDs != nil {
		clone.IDs = append([]uint64(nil), e.IDs...)
	}
	if e.Points != nil {
		clone.Points = append([]uint64(nil), e.Points...)
	}
	return &clone
}

type storedEntry struct {
	Seq        uint64
	Op         string
	Caller     [20]byte
	Recipient  [20]byte
	IDs        []uint64
	Points     []uint64
	Annotation string
	StateRoot  [32]byte
	CreatedAt  uint64
}

// Journal persists the committed operation log in the flat keyspace of the
// backing store, outside the state trie.
type Journal struct {
	db storage.Database
	mu sync.RWMutex
}

// NewJournal constructs a journal backed by the supplied key-value store.
func NewJournal(db storage.Database) *Journal {
	return &Journal{db: db}
}

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf(journalEntryKeyFmt, seq))
}

func (j *Journal) lastSeqLocked() uint64 {
	data, err := j.db.Get([]byte(journalSeqKey))
	if err != nil || len(data) == 0 {
		return 0
	}
	var seq uint64
	if err := rlp.DecodeBytes(data, &seq); err != nil {
		return 0
	}
	return seq
}

// LastSeq returns the sequence of the most recent entry, 0 when the journal is
// empty.
func (j *Journal) LastSeq() uint64 {
	if j == nil || j.db == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastSeqLocked()
}

// Append assigns the next sequence to the entry and persists it. The entry key
// is written before the sequence cursor so a partial write stays invisible and
// is overwritten by the next append.
func (j *Journal) Append(entry *Entry) (uint64, error) {
	if j == nil || j.db == nil {
		return 0, errors.New("journal: not initialised")
	}
	if entry == nil {
		return 0, errors.New("journal: nil entry")
	}
	if entry.Op == "" {
		return 0, errors.New("journal: operation name required")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.lastSeqLocked() + 1
	record := entry.Clone()
	record.Seq = seq
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	encoded, err := rlp.EncodeToBytes(&storedEntry{
		Seq:        record.Seq,
		Op:         record.Op,
		Caller:     record.Caller,
		Recipient:  record.Recipient,
		IDs:        record.IDs,
		Points:     record.Points,
		Annotation: record.Annotation,
		StateRoot:  record.StateRoot,
		CreatedAt:  uint64(record.CreatedAt.Unix()),
	})
	if err != nil {
		return 0, err
	}
	if err := j.db.Put(entryKey(seq), encoded); err != nil {
		return 0, err
	}
	seqEncoded, err := rlp.EncodeToBytes(seq)
	if err != nil {
		return 0, err
	}
	if err := j.db.Put([]byte(journalSeqKey), seqEncoded); err != nil {
		return 0, err
	}
	return seq, nil
}

func (j *Journal) getLocked(seq uint64) (*Entry, bool, error) {
	data, err := j.db.Get(entryKey(seq))
	if err != nil || len(data) == 0 {
		return nil, false, nil
	}
	stored := new(storedEntry)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, err
	}
	entry := &Entry{
		Seq:        stored.Seq,
		Op:         stored.Op,
		Caller:     stored.Caller,
		Recipient:  stored.Recipient,
		IDs:        append([]uint64(nil), stored.IDs...),
		Points:     append([]uint64(nil), stored.Points...),
		Annotation: stored.Annotation,
		StateRoot:  stored.StateRoot,
		CreatedAt:  time.Unix(int64(stored.CreatedAt), 0).UTC(),
	}
	return entry, true, nil
}

// Get loads a single entry by sequence.
func (j *Journal) Get(seq uint64) (*Entry, bool, error) {
	if j == nil || j.db == nil {
		return nil, false, errors.New("journal: not initialised")
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.getLocked(seq)
}

// List returns up to limit entries with sequence strictly greater than
// afterSeq, in ascending order. A non-positive limit applies the default page
// size.
func (j *Journal) List(afterSeq uint64, limit int) ([]*Entry, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("journal: not initialised")
	}
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	last := j.lastSeqLocked()
	out := make([]*Entry, 0, limit)
	for seq := afterSeq + 1; seq <= last && len(out) < limit; seq++ {
		entry, ok, err := j.getLocked(seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
