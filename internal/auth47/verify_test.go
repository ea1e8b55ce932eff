package auth47_test

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"

	"github.com/paynym-tools/auth47-server/internal/auth47"
	"github.com/paynym-tools/auth47-server/internal/bip47"
	"github.com/paynym-tools/auth47-server/internal/challenge"
)

const testCallback = "https://demo.example.com/api/auth47/callback"

// wallet holds a payment code and a signer over its notification key,
// standing in for the external signing wallet.
type wallet struct {
	nym  string
	sign func(msg string) string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	var chainCode [32]byte
	if _, err := rand.Read(chainCode[:]); err != nil {
		t.Fatal(err)
	}
	nym := bip47.New(priv.PubKey(), chainCode).String()

	ext := hdkeychain.NewExtendedKey(
		chaincfg.MainNetParams.HDPrivateKeyID[:],
		priv.Serialize(), chainCode[:],
		[]byte{0, 0, 0, 0}, 3, 0, true,
	)
	child, err := ext.Derive(0)
	if err != nil {
		t.Fatal(err)
	}
	notifPriv, err := child.ECPrivKey()
	if err != nil {
		t.Fatal(err)
	}

	return wallet{
		nym: nym,
		sign: func(msg string) string {
			sig := ecdsa.SignCompact(notifPriv, auth47.MessageDigest(msg), true)
			return base64.StdEncoding.EncodeToString(sig)
		},
	}
}

// issueRecord inserts a record the way the issuer would and returns the
// challenge string a wallet would scan.
func issueRecord(t *testing.T, s *challenge.Store, nonce string, expiry int64) string {
	t.Helper()
	err := s.Insert(challenge.Record{
		Nonce:    nonce,
		IssuedAt: time.Now().Unix(),
		Expiry:   expiry,
	})
	if err != nil {
		t.Fatal(err)
	}
	return auth47.Challenge{Nonce: nonce, Callback: testCallback, Expiry: expiry}.String()
}

func newVerifier(s *challenge.Store) *auth47.Verifier {
	return auth47.NewVerifier(s, zap.NewNop())
}

func validExpiry() int64 {
	return time.Now().Add(challenge.Validity).Unix()
}

func TestRedeem_Success(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)

	ch := issueRecord(t, s, "n1", validExpiry())
	proof := auth47.Proof{Challenge: ch, Nym: w.nym, Signature: w.sign(ch)}

	nym, err := v.Redeem(proof)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if nym != w.nym {
		t.Errorf("resolved identity: got %q want %q", nym, w.nym)
	}

	rec, ok := s.Get("n1")
	if !ok || !rec.Verified {
		t.Fatal("record not committed")
	}
	if rec.Nym != w.nym || rec.Challenge != ch || rec.Signature != proof.Signature {
		t.Errorf("proof fields not recorded: %+v", rec)
	}
}

func TestRedeem_SingleUse(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)

	ch := issueRecord(t, s, "n1", validExpiry())
	proof := auth47.Proof{Challenge: ch, Nym: w.nym, Signature: w.sign(ch)}

	if _, err := v.Redeem(proof); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Redeem(proof); !errors.Is(err, auth47.ErrNonceAlreadyUsed) {
		t.Fatalf("replay: expected ErrNonceAlreadyUsed, got %v", err)
	}
}

// Direct and callback redemption can land simultaneously with the same
// valid proof. Exactly one may succeed.
func TestRedeem_ConcurrentPaths(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)

	ch := issueRecord(t, s, "raced", validExpiry())
	proof := auth47.Proof{Challenge: ch, Nym: w.nym, Signature: w.sign(ch)}

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Redeem(proof)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, auth47.ErrNonceAlreadyUsed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 success, got %d", wins)
	}
}

func TestRedeem_MalformedProof(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)

	for _, p := range []auth47.Proof{
		{},
		{Challenge: "auth47://x?c=y&e=1"},
		{Challenge: "auth47://x?c=y&e=1", Nym: "PM8T"},
		{Nym: "PM8T", Signature: "sig"},
	} {
		if _, err := v.Redeem(p); !errors.Is(err, auth47.ErrMalformedProof) {
			t.Errorf("proof %+v: expected ErrMalformedProof, got %v", p, err)
		}
	}
}

func TestRedeem_MalformedChallenge(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)

	_, err := v.Redeem(auth47.Proof{Challenge: "https://not-auth47", Nym: w.nym, Signature: "sig"})
	if !errors.Is(err, auth47.ErrMalformedChallenge) {
		t.Fatalf("expected ErrMalformedChallenge, got %v", err)
	}
}

func TestRedeem_UnknownNonce(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)

	ch := auth47.Challenge{Nonce: "neverissued", Callback: testCallback, Expiry: validExpiry()}.String()
	_, err := v.Redeem(auth47.Proof{Challenge: ch, Nym: w.nym, Signature: w.sign(ch)})
	if !errors.Is(err, auth47.ErrUnknownNonce) {
		t.Fatalf("expected ErrUnknownNonce, got %v", err)
	}
}

// Even with a valid signature, a past expiry always fails.
func TestRedeem_Expired(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)

	past := time.Now().Add(-time.Second).Unix()
	ch := issueRecord(t, s, "old", past)

	_, err := v.Redeem(auth47.Proof{Challenge: ch, Nym: w.nym, Signature: w.sign(ch)})
	if !errors.Is(err, auth47.ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

// Stretching the embedded expiry while keeping the nonce valid must trip
// the consistency check, not extend the challenge's life.
func TestRedeem_TamperedExpiry(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)

	expiry := validExpiry()
	issueRecord(t, s, "n1", expiry)

	forged := auth47.Challenge{Nonce: "n1", Callback: testCallback, Expiry: expiry + 3600}.String()
	_, err := v.Redeem(auth47.Proof{Challenge: forged, Nym: w.nym, Signature: w.sign(forged)})
	if !errors.Is(err, auth47.ErrExpiryMismatch) {
		t.Fatalf("expected ErrExpiryMismatch, got %v", err)
	}
	if rec, _ := s.Get("n1"); rec.Verified {
		t.Error("tampered proof committed")
	}
}

func TestRedeem_InvalidNym(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)

	ch := issueRecord(t, s, "n1", validExpiry())
	_, err := v.Redeem(auth47.Proof{Challenge: ch, Nym: "not-a-payment-code", Signature: "c2ln"})
	if !errors.Is(err, auth47.ErrInvalidNym) {
		t.Fatalf("expected ErrInvalidNym, got %v", err)
	}
}

func TestRedeem_InvalidSignature(t *testing.T) {
	s := challenge.NewStore()
	v := newVerifier(s)
	w := newWallet(t)
	other := newWallet(t)

	ch := issueRecord(t, s, "n1", validExpiry())

	// signed by a different wallet's notification key
	_, err := v.Redeem(auth47.Proof{Challenge: ch, Nym: w.nym, Signature: other.sign(ch)})
	if !errors.Is(err, auth47.ErrInvalidSignature) {
		t.Fatalf("wrong signer: expected ErrInvalidSignature, got %v", err)
	}

	// garbage signature bytes
	_, err = v.Redeem(auth47.Proof{Challenge: ch, Nym: w.nym, Signature: "!!not base64!!"})
	if !errors.Is(err, auth47.ErrInvalidSignature) {
		t.Fatalf("garbage: expected ErrInvalidSignature, got %v", err)
	}

	// signature over a different message
	_, err = v.Redeem(auth47.Proof{Challenge: ch, Nym: w.nym, Signature: w.sign(ch + "x")})
	if !errors.Is(err, auth47.ErrInvalidSignature) {
		t.Fatalf("wrong message: expected ErrInvalidSignature, got %v", err)
	}

	// failed attempts must not poison the record: a correct proof still works
	if _, err := v.Redeem(auth47.Proof{Challenge: ch, Nym: w.nym, Signature: w.sign(ch)}); err != nil {
		t.Fatalf("retry after transient failures: %v", err)
	}
}
