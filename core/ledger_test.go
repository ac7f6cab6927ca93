package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"rewardledger/core/journal"
	"rewardledger/native/rewards"
	"rewardledger/storage"
)

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func newTestLedger(t *testing.T) (*Ledger, [20]byte) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	authority := testAddr(0xAA)
	ledger, err := NewLedger(db, authority)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger, authority
}

func TestLedgerMintCommitsStateAndJournal(t *testing.T) {
	ledger, authority := newTestLedger(t)

	id, err := ledger.Mint(authority, 150)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}

	reward, ok, err := ledger.Get(id)
	if err != nil || !ok {
		t.Fatalf("get minted reward: ok=%v err=%v", ok, err)
	}
	if reward.Owner != authority || reward.Points != 150 {
		t.Fatalf("unexpected reward %+v", reward)
	}

	if seq := ledger.JournalLastSeq(); seq != 1 {
		t.Fatalf("expected journal seq 1, got %d", seq)
	}
	entries, err := ledger.JournalEntries(0, 10)
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Op != journal.OpMint || entry.Caller != authority {
		t.Fatalf("unexpected journal entry %+v", entry)
	}
	if len(entry.IDs) != 1 || entry.IDs[0] != id {
		t.Fatalf("journal ids = %v", entry.IDs)
	}
	if entry.StateRoot != [32]byte(ledger.StateRoot()) {
		t.Fatalf("journal root does not match committed root")
	}
}

func TestLedgerRejectedMutationLeavesStateUntouched(t *testing.T) {
	ledger, authority := newTestLedger(t)

	if _, err := ledger.Mint(authority, 10); err != nil {
		t.Fatalf("seed mint: %v", err)
	}
	rootBefore := ledger.StateRoot()
	seqBefore := ledger.JournalLastSeq()

	if _, err := ledger.Mint(testAddr(0x01), 10); !errors.Is(err, rewards.ErrNotAuthority) {
		t.Fatalf("expected ErrNotAuthority, got %v", err)
	}
	if err := ledger.Burn(testAddr(0x02), 1); !errors.Is(err, rewards.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if root := ledger.StateRoot(); root != rootBefore {
		t.Fatalf("state root changed after rejected mutation: %x != %x", root, rootBefore)
	}
	if seq := ledger.JournalLastSeq(); seq != seqBefore {
		t.Fatalf("journal advanced after rejected mutation: %d != %d", seq, seqBefore)
	}

	// The ledger keeps accepting valid mutations after a rollback.
	id, err := ledger.Mint(authority, 20)
	if err != nil {
		t.Fatalf("mint after rollback: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2 after rollback, got %d", id)
	}
}

func TestLedgerBatchMintJournalsRequestAndOutcome(t *testing.T) {
	ledger, authority := newTestLedger(t)

	ids, err := ledger.MintBatch(authority, []uint64{100, 0, 300}, "q3 promo")
	if err != nil {
		t.Fatalf("mint batch: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected ids [1 2], got %v", ids)
	}

	entries, err := ledger.JournalEntries(0, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("journal list: entries=%d err=%v", len(entries), err)
	}
	entry := entries[0]
	if entry.Op != journal.OpMintBatch {
		t.Fatalf("expected op %q, got %q", journal.OpMintBatch, entry.Op)
	}
	if len(entry.IDs) != 2 {
		t.Fatalf("journal should record issued ids, got %v", entry.IDs)
	}
	if len(entry.Points) != 3 {
		t.Fatalf("journal should record the full request, got %v", entry.Points)
	}
	if entry.Annotation != "q3 promo" {
		t.Fatalf("journal annotation = %q", entry.Annotation)
	}

	last, err := ledger.LastID()
	if err != nil || last != 2 {
		t.Fatalf("last id = %d err=%v", last, err)
	}
}

func TestLedgerJournalRecordsOperationDetails(t *testing.T) {
	ledger, authority := newTestLedger(t)
	bob := testAddr(0x0B)

	if _, err := ledger.Mint(authority, 50); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ledger.MintBatch(authority, []uint64{60}, ""); err != nil {
		t.Fatalf("mint batch: %v", err)
	}
	if err := ledger.Transfer(authority, authority, bob, 1); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.UpdatePoints(bob, 1, 70); err != nil {
		t.Fatalf("update points: %v", err)
	}
	if err := ledger.Burn(bob, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}

	entries, err := ledger.JournalEntries(0, 10)
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	ops := []string{journal.OpMint, journal.OpMintBatch, journal.OpTransfer, journal.OpUpdatePoints, journal.OpBurn}
	if len(entries) != len(ops) {
		t.Fatalf("expected %d entries, got %d", len(ops), len(entries))
	}
	for i, op := range ops {
		if entries[i].Op != op {
			t.Fatalf("entry %d op = %q, want %q", i, entries[i].Op, op)
		}
		if entries[i].Seq != uint64(i+1) {
			t.Fatalf("entry %d seq = %d", i, entries[i].Seq)
		}
	}
	if entries[2].Recipient != bob {
		t.Fatalf("transfer entry recipient = %x", entries[2].Recipient)
	}
	if entries[3].Caller != bob || len(entries[3].Points) != 1 || entries[3].Points[0] != 70 {
		t.Fatalf("update entry = %+v", entries[3])
	}
}

func TestLedgerPublishesOnlyCommittedEvents(t *testing.T) {
	ledger, authority := newTestLedger(t)
	bob := testAddr(0x0B)

	updates, cancel, backlog, err := ledger.RewardSubscribe(nil, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	if _, err := ledger.Mint(authority, 25); err != nil {
		t.Fatalf("mint: %v", err)
	}
	minted := mustReceiveUpdate(t, updates)
	if minted.Type != "rewards.minted" || minted.ID != 1 || minted.Points != 25 {
		t.Fatalf("unexpected mint frame %+v", minted)
	}
	if minted.Owner != authority {
		t.Fatalf("mint frame owner = %x", minted.Owner)
	}

	// A rejected mutation must not reach subscribers.
	if err := ledger.Burn(bob, 1); !errors.Is(err, rewards.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	select {
	case update := <-updates:
		t.Fatalf("received frame for rejected mutation: %+v", update)
	default:
	}

	if _, err := ledger.MintBatch(authority, []uint64{5, 0, 7}, "batch"); err != nil {
		t.Fatalf("mint batch: %v", err)
	}
	first := mustReceiveUpdate(t, updates)
	second := mustReceiveUpdate(t, updates)
	summary := mustReceiveUpdate(t, updates)
	if first.Type != "rewards.minted" || first.ID != 2 {
		t.Fatalf("unexpected batch frame %+v", first)
	}
	if second.Type != "rewards.minted" || second.ID != 3 {
		t.Fatalf("unexpected batch frame %+v", second)
	}
	if summary.Type != "rewards.batch_minted" {
		t.Fatalf("unexpected summary frame %+v", summary)
	}
	if summary.Requested != 3 || summary.Skipped != 1 || len(summary.MintedIDs) != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Actor != authority || summary.Annotation != "batch" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if err := ledger.Transfer(authority, authority, bob, 1); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	moved := mustReceiveUpdate(t, updates)
	if moved.Type != "rewards.transferred" || moved.From != authority || moved.To != bob {
		t.Fatalf("unexpected transfer frame %+v", moved)
	}

	if err := ledger.UpdatePoints(bob, 1, 90); err != nil {
		t.Fatalf("update points: %v", err)
	}
	adjusted := mustReceiveUpdate(t, updates)
	if adjusted.Type != "rewards.points_updated" || adjusted.OldPoints != 25 || adjusted.Points != 90 {
		t.Fatalf("unexpected update frame %+v", adjusted)
	}

	if err := ledger.Burn(bob, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}
	burned := mustReceiveUpdate(t, updates)
	if burned.Type != "rewards.burned" || burned.ID != 1 || burned.Owner != bob {
		t.Fatalf("unexpected burn frame %+v", burned)
	}

	// Frames carry monotonically increasing cursors.
	if minted.Cursor != "1" || burned.Sequence <= summary.Sequence {
		t.Fatalf("cursor ordering broken: %+v %+v", minted, burned)
	}
}

func mustReceiveUpdate(t *testing.T, updates <-chan RewardUpdate) RewardUpdate {
	t.Helper()
	select {
	case update := <-updates:
		return update
	default:
		t.Fatalf("expected a buffered stream update")
		return RewardUpdate{}
	}
}

func TestLedgerReopenRestoresCommittedState(t *testing.T) {
	path := t.TempDir()
	authority := testAddr(0xAA)

	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	ledger, err := NewLedger(db, authority)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := ledger.Mint(authority, 10); err != nil {
		t.Fatalf("mint 1: %v", err)
	}
	if _, err := ledger.Mint(authority, 20); err != nil {
		t.Fatalf("mint 2: %v", err)
	}
	if err := ledger.Burn(authority, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}
	root := ledger.StateRoot()
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer reopened.Close()
	restored, err := NewLedger(reopened, authority)
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}

	if got := restored.StateRoot(); got != root {
		t.Fatalf("state root after reopen: %x != %x", got, root)
	}
	burned, ok, err := restored.IsBurned(1)
	if err != nil || !ok || !burned {
		t.Fatalf("reward 1 should be burned: ok=%v burned=%v err=%v", ok, burned, err)
	}
	owner, ok, err := restored.OwnerOf(2)
	if err != nil || !ok || owner != authority {
		t.Fatalf("reward 2 owner mismatch: ok=%v owner=%x err=%v", ok, owner, err)
	}
	if last, err := restored.LastID(); err != nil || last != 2 {
		t.Fatalf("last id after reopen = %d err=%v", last, err)
	}
	if seq := restored.JournalLastSeq(); seq != 3 {
		t.Fatalf("journal seq after reopen = %d", seq)
	}
}

func TestLedgerRejectsSchemaVersionMismatch(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	encoded, err := rlp.EncodeToBytes(schemaVersion + 1)
	if err != nil {
		t.Fatalf("encode version: %v", err)
	}
	if err := db.Put(schemaVersionKey, encoded); err != nil {
		t.Fatalf("seed version: %v", err)
	}
	if _, err := NewLedger(db, testAddr(0xAA)); err == nil {
		t.Fatalf("expected error for newer on-disk schema")
	}
}

func TestLedgerRejectsAuthorityMismatchAfterFirstMutation(t *testing.T) {
	path := t.TempDir()
	authority := testAddr(0xAA)

	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	ledger, err := NewLedger(db, authority)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := ledger.Mint(authority, 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer reopened.Close()
	if _, err := NewLedger(reopened, testAddr(0xBB)); err == nil {
		t.Fatalf("expected authority mismatch error")
	}
}

func TestLedgerAuthorityQuery(t *testing.T) {
	ledger, authority := newTestLedger(t)

	got, ok, err := ledger.Authority()
	if err != nil || !ok {
		t.Fatalf("authority query: ok=%v err=%v", ok, err)
	}
	if got != authority {
		t.Fatalf("authority = %x, want %x", got, authority)
	}
}

func TestLedgerQueriesReportAbsence(t *testing.T) {
	ledger, _ := newTestLedger(t)

	if _, ok, err := ledger.Get(42); err != nil || ok {
		t.Fatalf("absent get: ok=%v err=%v", ok, err)
	}
	if exists, err := ledger.Exists(42); err != nil || exists {
		t.Fatalf("absent exists: exists=%v err=%v", exists, err)
	}
	if valid, err := ledger.IsValid(42); err != nil || valid {
		t.Fatalf("absent isValid: valid=%v err=%v", valid, err)
	}
	if can, err := ledger.CanTransfer(42, testAddr(0x01)); err != nil || can {
		t.Fatalf("absent canTransfer: can=%v err=%v", can, err)
	}
	if enough, err := ledger.HasAtLeastPoints(42, 1); err != nil || enough {
		t.Fatalf("absent hasAtLeastPoints: enough=%v err=%v", enough, err)
	}
}
