package state

import "testing"

type kvFixture struct {
	Name  string
	Count uint64
}

func TestKVRoundTrip(t *testing.T) {
	manager := newTestManager(t)

	in := kvFixture{Name: "batch", Count: 7}
	if err := manager.KVPut([]byte("test/fixture"), &in); err != nil {
		t.Fatalf("put: %v", err)
	}

	var out kvFixture
	ok, err := manager.KVGet([]byte("test/fixture"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("stored key reported missing")
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestKVGetMissingKey(t *testing.T) {
	manager := newTestManager(t)

	var out kvFixture
	ok, err := manager.KVGet([]byte("test/absent"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("absent key reported present")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.KVPut(nil, kvFixture{}); err == nil {
		t.Fatalf("expected error for empty put key")
	}
	if _, err := manager.KVGet(nil, nil); err == nil {
		t.Fatalf("expected error for empty get key")
	}
}

func TestKVGetNilDestinationChecksPresence(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.KVPut([]byte("test/flag"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := manager.KVGet([]byte("test/flag"), nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("presence probe failed for stored key")
	}
}
