package auth47

// VerifyError is a terminal verification failure. The Code is the wire
// value returned to direct-redemption callers.
type VerifyError struct {
	Code string
}

func (e *VerifyError) Error() string { return "auth47: " + e.Code }

var (
	ErrMalformedProof     = &VerifyError{Code: "malformed_proof"}
	ErrMalformedChallenge = &VerifyError{Code: "malformed_challenge"}
	ErrUnknownNonce       = &VerifyError{Code: "unknown_nonce"}
	ErrChallengeExpired   = &VerifyError{Code: "challenge_expired"}
	ErrExpiryMismatch     = &VerifyError{Code: "expiry_mismatch"}
	ErrNonceAlreadyUsed   = &VerifyError{Code: "nonce_already_used"}
	ErrInvalidNym         = &VerifyError{Code: "invalid_nym"}
	ErrInvalidSignature   = &VerifyError{Code: "invalid_signature"}
)
