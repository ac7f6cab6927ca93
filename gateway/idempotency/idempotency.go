package idempotency

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const HeaderKey = "Idempotency-Key"

var bucketResponses = []byte("responses")

// Record is the cached response envelope for one idempotency key.
type Record struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Store persists mutation responses in BoltDB so retried requests replay the
// original outcome instead of executing twice.
type Store struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

func NewStore(path string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("idempotency store path required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached record for a key when it has not expired. Expired
// entries are deleted on read.
func (s *Store) Get(key string) (Record, bool, error) {
	var record Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if s.now().After(record.ExpiresAt) {
			record = Record{}
			return bucket.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	if record.StatusCode == 0 && len(record.Body) == 0 {
		return Record{}, false, nil
	}
	return record, true, nil
}

func (s *Store) Put(key string, status int, body []byte) error {
	record := Record{
		StatusCode: status,
		Body:       append([]byte(nil), body...),
		StoredAt:   s.now(),
		ExpiresAt:  s.now().Add(s.ttl),
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketResponses).Put([]byte(key), payload)
	})
}

// Middleware replays cached responses for repeated Idempotency-Key values.
// Requests without the header pass straight through. Server errors are not
// cached so the client may retry them.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s == nil {
			next.ServeHTTP(w, r)
			return
		}
		idemKey := strings.TrimSpace(r.Header.Get(HeaderKey))
		if idemKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := storeKey(r.Method, r.URL.Path, idemKey)
		if record, found, err := s.Get(key); err == nil && found {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Cache", "hit")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.status < http.StatusInternalServerError {
			_ = s.Put(key, recorder.status, recorder.buf.Bytes())
		}
	})
}

func storeKey(method, path, idem string) string {
	return fmt.Sprintf("%s|%s|%s", method, path, idem)
}

type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
