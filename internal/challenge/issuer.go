package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/paynym-tools/auth47-server/internal/auth47"
)

const nonceBytes = 16

// Encoder turns a challenge URI into a scannable representation.
// Satisfied by QREncoder; issuer tests use a failing stub.
type Encoder interface {
	Encode(uri string) (string, error)
}

// QREncoder renders a URI as a base64 PNG QR code.
type QREncoder struct {
	Size int
}

func (e QREncoder) Encode(uri string) (string, error) {
	size := e.Size
	if size == 0 {
		size = 256
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// Issued is the response to a challenge request.
type Issued struct {
	Nonce  string `json:"nonce"`
	URI    string `json:"uri"`
	QR     string `json:"qr"`
	Expiry int64  `json:"expires_at"`
}

// Issuer creates challenge records and their scannable representations.
type Issuer struct {
	store    *Store
	enc      Encoder
	callback string
	log      *zap.Logger
}

// NewIssuer wires an issuer to a store. callback is the absolute URL
// wallets POST proofs to; it is embedded verbatim in every challenge URI.
func NewIssuer(store *Store, enc Encoder, callback string, log *zap.Logger) *Issuer {
	return &Issuer{store: store, enc: enc, callback: callback, log: log}
}

// Issue creates a fresh single-use challenge valid for the fixed window.
// Either both the record and the QR representation are produced, or
// neither: an encoder failure surfaces as an error with no record behind.
func (i *Issuer) Issue() (*Issued, error) {
	if n := i.store.Sweep(); n > 0 {
		i.log.Info("swept stale challenges", zap.Int("count", n))
	}

	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	now := time.Now()
	expiry := now.Add(Validity).Unix()
	uri := auth47.Challenge{Nonce: nonce, Callback: i.callback, Expiry: expiry}.String()

	qr, err := i.enc.Encode(uri)
	if err != nil {
		return nil, fmt.Errorf("encode challenge: %w", err)
	}

	if err := i.store.Insert(Record{
		Nonce:    nonce,
		IssuedAt: now.Unix(),
		Expiry:   expiry,
	}); err != nil {
		return nil, fmt.Errorf("register challenge: %w", err)
	}

	i.log.Info("challenge issued", zap.String("nonce", nonce), zap.Int64("expires_at", expiry))
	return &Issued{Nonce: nonce, URI: uri, QR: qr, Expiry: expiry}, nil
}
