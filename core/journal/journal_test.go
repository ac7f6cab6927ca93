package journal

import (
	"testing"
	"time"

	"rewardledger/storage"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() {
		db.Close()
	})
	return NewJournal(db)
}

func TestJournalAppendAssignsSequence(t *testing.T) {
	j := newTestJournal(t)

	if got := j.LastSeq(); got != 0 {
		t.Fatalf("fresh journal must start at 0, got %d", got)
	}

	var caller [20]byte
	caller[19] = 1
	seq, err := j.Append(&Entry{Op: OpMint, Caller: caller, IDs: []uint64{1}, Points: []uint64{100}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}
	seq, err = j.Append(&Entry{Op: OpBurn, Caller: caller, IDs: []uint64{1}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 2 {
		t.Fatalf("expected seq 2, got %d", seq)
	}
	if got := j.LastSeq(); got != 2 {
		t.Fatalf("expected last seq 2, got %d", got)
	}
}

func TestJournalRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	var caller, recipient [20]byte
	caller[0] = 0xaa
	recipient[0] = 0xbb
	created := time.Unix(1700000000, 0).UTC()
	in := &Entry{
		Op:         OpTransfer,
		Caller:     caller,
		Recipient:  recipient,
		IDs:        []uint64{7},
		Annotation: "",
		CreatedAt:  created,
	}
	if _, err := j.Append(in); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, ok, err := j.Get(1)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Op != OpTransfer || got.Caller != caller || got.Recipient != recipient {
		t.Fatalf("entry mismatch: %+v", got)
	}
	if len(got.IDs) != 1 || got.IDs[0] != 7 {
		t.Fatalf("ids mismatch: %v", got.IDs)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created at mismatch: %v", got.CreatedAt)
	}

	if _, ok, err := j.Get(99); err != nil || ok {
		t.Fatalf("absent seq must be a clean miss")
	}
}

func TestJournalListCursor(t *testing.T) {
	j := newTestJournal(t)

	var caller [20]byte
	for i := uint64(1); i <= 5; i++ {
		if _, err := j.Append(&Entry{Op: OpMint, Caller: caller, IDs: []uint64{i}, Points: []uint64{i * 10}}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, err := j.List(0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 1 || page[1].Seq != 2 {
		t.Fatalf("unexpected first page: %+v", page)
	}

	page, err = j.List(page[len(page)-1].Seq, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 || page[0].Seq != 3 || page[2].Seq != 5 {
		t.Fatalf("unexpected second page: %+v", page)
	}

	page, err = j.List(5, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected exhausted listing, got %d entries", len(page))
	}
}

func TestJournalRejectsInvalidEntries(t *testing.T) {
	j := newTestJournal(t)

	if _, err := j.Append(nil); err == nil {
		t.Fatalf("expected nil entry rejection")
	}
	if _, err := j.Append(&Entry{}); err == nil {
		t.Fatalf("expected missing op rejection")
	}
}
