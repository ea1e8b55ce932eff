package auth47

import (
	"bytes"
	"encoding/base64"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const messagePrefix = "Bitcoin Signed Message:\n"

// MessageDigest computes the Bitcoin signed-message digest over msg:
// double-SHA256 of the varint-framed prefix and message. The digest is
// taken over the exact bytes the wallet signed; no re-serialization.
func MessageDigest(msg string) []byte {
	var buf bytes.Buffer
	wire.WriteVarString(&buf, 0, messagePrefix) //nolint:errcheck
	wire.WriteVarString(&buf, 0, msg)           //nolint:errcheck
	return chainhash.DoubleHashB(buf.Bytes())
}

// VerifyMessage checks a base64 compact signature over msg against key.
func VerifyMessage(msg, sigB64 string, key *btcec.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return errors.New("signature is not valid base64")
	}
	recovered, _, err := ecdsa.RecoverCompact(sig, MessageDigest(msg))
	if err != nil {
		return err
	}
	if !recovered.IsEqual(key) {
		return errors.New("recovered key mismatch")
	}
	return nil
}
