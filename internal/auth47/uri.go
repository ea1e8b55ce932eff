// Package auth47 implements the Auth47 challenge wire format and proof
// verification. Identities are BIP47 payment codes; proofs are Bitcoin
// message signatures over the exact challenge string.
package auth47

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme is the challenge URI scheme.
const Scheme = "auth47"

// Challenge is the semantic content of a challenge URI:
//
//	auth47://<nonce>?c=<callback>&e=<expiry-unix-seconds>
//
// The callback is embedded verbatim, never percent-encoded; consuming
// wallets use it literally for their own callback request.
type Challenge struct {
	Nonce    string
	Callback string
	Expiry   int64
}

// String serializes the challenge to its URI form.
func (c Challenge) String() string {
	return fmt.Sprintf("%s://%s?c=%s&e=%d", Scheme, c.Nonce, c.Callback, c.Expiry)
}

// ParseChallenge parses a challenge URI. Parsing is positional rather than
// generic query parsing: the callback value may itself contain '?' and '&',
// so everything between "?c=" and the final "&e=" belongs to the callback.
func ParseChallenge(s string) (*Challenge, error) {
	rest, ok := strings.CutPrefix(s, Scheme+"://")
	if !ok {
		return nil, fmt.Errorf("not an %s URI", Scheme)
	}
	nonce, query, ok := strings.Cut(rest, "?")
	if !ok || nonce == "" {
		return nil, fmt.Errorf("missing nonce or query")
	}
	callback, ok := strings.CutPrefix(query, "c=")
	if !ok {
		return nil, fmt.Errorf("missing callback parameter")
	}
	i := strings.LastIndex(callback, "&e=")
	if i < 0 {
		return nil, fmt.Errorf("missing expiry parameter")
	}
	expiry, err := strconv.ParseInt(callback[i+len("&e="):], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry: %w", err)
	}
	callback = callback[:i]
	if callback == "" {
		return nil, fmt.Errorf("empty callback")
	}
	return &Challenge{Nonce: nonce, Callback: callback, Expiry: expiry}, nil
}
