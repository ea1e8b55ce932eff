// Package bip47 parses BIP47 payment codes and derives the notification
// public key used as the identity's verification key in Auth47.
package bip47

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// base58check version byte for payment codes; renders as a leading "P".
const versionByte = 0x47

// Serialized payload: version(1) || features(1) || pubkey(33) || chain code(32) || reserved(13).
const payloadLen = 80

var (
	ErrBadChecksum = errors.New("bip47: bad base58 checksum")
	ErrBadFormat   = errors.New("bip47: malformed payment code")
)

// PaymentCode is a parsed version-1 payment code.
type PaymentCode struct {
	pubKey    *btcec.PublicKey
	chainCode [32]byte
}

// Parse decodes and structurally validates a payment code string.
func Parse(code string) (*PaymentCode, error) {
	payload, version, err := base58.CheckDecode(code)
	if err != nil {
		if errors.Is(err, base58.ErrChecksum) {
			return nil, ErrBadChecksum
		}
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if version != versionByte {
		return nil, fmt.Errorf("%w: version byte 0x%02x", ErrBadFormat, version)
	}
	if len(payload) != payloadLen {
		return nil, fmt.Errorf("%w: payload length %d", ErrBadFormat, len(payload))
	}
	if payload[0] != 0x01 {
		return nil, fmt.Errorf("%w: unsupported code version %d", ErrBadFormat, payload[0])
	}
	pub, err := btcec.ParsePubKey(payload[2:35])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	pc := &PaymentCode{pubKey: pub}
	copy(pc.chainCode[:], payload[35:67])
	return pc, nil
}

// New builds a payment code from an identity public key and chain code.
func New(pubKey *btcec.PublicKey, chainCode [32]byte) *PaymentCode {
	return &PaymentCode{pubKey: pubKey, chainCode: chainCode}
}

// String serializes the payment code to its base58check form.
func (pc *PaymentCode) String() string {
	payload := make([]byte, payloadLen)
	payload[0] = 0x01 // version
	payload[1] = 0x00 // features
	copy(payload[2:35], pc.pubKey.SerializeCompressed())
	copy(payload[35:67], pc.chainCode[:])
	return base58.CheckEncode(payload, versionByte)
}

// NotificationKey derives the notification public key: the non-hardened
// child 0 of the extended public key embedded in the payment code.
func (pc *PaymentCode) NotificationKey() (*btcec.PublicKey, error) {
	ext := hdkeychain.NewExtendedKey(
		chaincfg.MainNetParams.HDPublicKeyID[:],
		pc.pubKey.SerializeCompressed(),
		pc.chainCode[:],
		[]byte{0, 0, 0, 0},
		3, 0, false,
	)
	child, err := ext.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("derive notification key: %w", err)
	}
	return child.ECPubKey()
}
