package auth47

import (
	"time"

	"go.uber.org/zap"

	"github.com/paynym-tools/auth47-server/internal/bip47"
)

// Proof is the redeemer's assertion of control over a payment code's
// notification key.
type Proof struct {
	Challenge string `json:"challenge" form:"challenge"`
	Nym       string `json:"nym" form:"nym"`
	Signature string `json:"signature" form:"signature"`
}

// ChallengeStore is the slice of the challenge store the verifier needs.
// Commit must re-validate existence, expiry and the verified flag under
// the store's lock so that concurrent redemptions of one nonce commit at
// most once.
type ChallengeStore interface {
	Lookup(nonce string) (expiry int64, verified bool, ok bool)
	Commit(nonce string, expiry int64, nym, challenge, signature string) error
}

// Verifier runs the redemption sequence. Both ingress paths (direct call
// and wallet callback) share this single implementation.
type Verifier struct {
	store ChallengeStore
	log   *zap.Logger
}

func NewVerifier(store ChallengeStore, log *zap.Logger) *Verifier {
	return &Verifier{store: store, log: log}
}

// Redeem validates a proof and commits the matching challenge record.
// Checks run in a fixed order and short-circuit on the first failure;
// every failure before the commit leaves the record untouched. On success
// the verified payment code is returned.
func (v *Verifier) Redeem(p Proof) (string, error) {
	if p.Challenge == "" || p.Nym == "" || p.Signature == "" {
		return "", ErrMalformedProof
	}

	ch, err := ParseChallenge(p.Challenge)
	if err != nil {
		v.log.Debug("challenge parse failed", zap.Error(err))
		return "", ErrMalformedChallenge
	}

	storedExpiry, verified, ok := v.store.Lookup(ch.Nonce)
	if !ok {
		return "", ErrUnknownNonce
	}
	if time.Now().Unix() >= ch.Expiry {
		return "", ErrChallengeExpired
	}
	// The expiry the wallet signed must be the one issued for this nonce;
	// anything else is a tampered challenge string.
	if ch.Expiry != storedExpiry {
		return "", ErrExpiryMismatch
	}
	if verified {
		return "", ErrNonceAlreadyUsed
	}

	pc, err := bip47.Parse(p.Nym)
	if err != nil {
		v.log.Debug("nym parse failed", zap.Error(err))
		return "", ErrInvalidNym
	}
	notifKey, err := pc.NotificationKey()
	if err != nil {
		v.log.Debug("notification key derivation failed", zap.Error(err))
		return "", ErrInvalidNym
	}

	if err := VerifyMessage(p.Challenge, p.Signature, notifKey); err != nil {
		v.log.Debug("signature verification failed", zap.Error(err))
		return "", ErrInvalidSignature
	}

	// The replay check above is advisory only; Commit repeats it under the
	// store lock, which is what closes the race between the two paths.
	if err := v.store.Commit(ch.Nonce, ch.Expiry, p.Nym, p.Challenge, p.Signature); err != nil {
		return "", err
	}
	return p.Nym, nil
}
