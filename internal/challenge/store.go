// Package challenge holds the in-memory Auth47 challenge lifecycle:
// issuance, single-use commit, status reads, and expiry sweeping.
package challenge

import (
	"sync"
	"time"

	"github.com/paynym-tools/auth47-server/internal/auth47"
)

const (
	// Validity is the fixed window a challenge may be redeemed in.
	Validity = 300 * time.Second
	// retention is how long a record survives past issuance before the
	// sweep reclaims it, verified or not.
	retention = 600 * time.Second
)

// Record is the stateful side of one issued challenge. Nym, Challenge and
// Signature are empty until the commit.
type Record struct {
	Nonce     string
	IssuedAt  int64
	Expiry    int64
	Verified  bool
	Nym       string
	Challenge string
	Signature string
}

// Store maps nonces to challenge records. It is an explicitly owned value
// handed to the issuer, verifier and handlers, not a package singleton, so
// tests run against isolated instances.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Insert registers a fresh record. The nonce must not collide with a live
// record.
func (s *Store) Insert(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.Nonce]; exists {
		return auth47.ErrNonceAlreadyUsed
	}
	s.records[r.Nonce] = &r
	return nil
}

// Get returns a copy of the record for nonce. Records past the retention
// horizon read as absent even before the sweep reclaims them, so observable
// behavior never depends on sweep timing.
func (s *Store) Get(nonce string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live(nonce)
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Lookup exposes the fields the verifier pre-checks before doing signature
// work.
func (s *Store) Lookup(nonce string) (expiry int64, verified bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live(nonce)
	if !ok {
		return 0, false, false
	}
	return r.Expiry, r.Verified, true
}

// live must be called with the lock held.
func (s *Store) live(nonce string) (*Record, bool) {
	r, ok := s.records[nonce]
	if !ok || r.IssuedAt <= time.Now().Add(-retention).Unix() {
		return nil, false
	}
	return r, true
}

// Commit marks a record verified and attaches the proof. All preconditions
// are re-checked under the lock: signature verification happens outside it,
// and the direct and callback paths can race on the same nonce. Exactly one
// caller wins; the loser gets ErrNonceAlreadyUsed.
func (s *Store) Commit(nonce string, expiry int64, nym, challenge, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live(nonce)
	if !ok {
		return auth47.ErrUnknownNonce
	}
	if time.Now().Unix() >= r.Expiry {
		return auth47.ErrChallengeExpired
	}
	if expiry != r.Expiry {
		return auth47.ErrExpiryMismatch
	}
	if r.Verified {
		return auth47.ErrNonceAlreadyUsed
	}
	r.Verified = true
	r.Nym = nym
	r.Challenge = challenge
	r.Signature = signature
	return nil
}

// Claim atomically consumes a verified record and returns a copy of it.
// The record leaves the store before the lock is released, so concurrent
// claims on the same nonce see exactly one winner.
func (s *Store) Claim(nonce string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live(nonce)
	if !ok || !r.Verified {
		return Record{}, false
	}
	delete(s.records, nonce)
	return *r, true
}

// Release puts a claimed record back, making the redemption spendable
// again after the action it was claimed for failed.
func (s *Store) Release(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Nonce] = &r
}

// Sweep deletes records older than the retention window and reports how
// many were reclaimed.
func (s *Store) Sweep() int {
	cutoff := time.Now().Add(-retention).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for nonce, r := range s.records {
		if r.IssuedAt <= cutoff {
			delete(s.records, nonce)
			n++
		}
	}
	return n
}

// Stats reports live and verified record counts for the health endpoint.
func (s *Store) Stats() (live, verified int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		live++
		if r.Verified {
			verified++
		}
	}
	return live, verified
}
