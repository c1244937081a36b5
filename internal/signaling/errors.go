package signaling

// Error codes carried by error envelopes.
//
// Validation and protocol failures are reported back to the sender and
// never mutate room state; delivery failures are silent because
// negotiation traffic is inherently racy with peer departures.
const (
	codeValidation    = "validation_error"
	codeNotJoined     = "not_joined"
	codeAlreadyJoined = "already_joined"
	codeBadMessage    = "bad_message"
	codeRateLimited   = "rate_limited"
)

// wireError is a protocol-level failure that is reported to the sender as
// an error envelope. The connection survives it.
type wireError struct {
	Code    string
	Message string
}

func (e *wireError) Error() string { return e.Code + ": " + e.Message }
