package domain

import "github.com/samber/oops"

// Error codes shared by the client and the relay. The relay returns them in
// HTTP error bodies; the client matches on them with HasCode.
const (
	CodeWrongPasswordOrCorrupt = "wrong-password-or-corrupt"
	CodeNotFound               = "not-found"
	CodeLegacyFormat           = "legacy-format"
	CodeBadSignature           = "bad-signature"
	CodeNoPeerIdentity         = "no-peer-identity"
	CodeExchangeLost           = "exchange-lost"
	CodeTransport              = "transport"
	CodeMissingReplayFields    = "missing-replay-fields"
	CodeBadNonce               = "bad-nonce"
	CodeUndecipherable         = "undecipherable"
	CodeDuplicateNonce         = "duplicate-nonce"
	CodeMessageTooOld          = "message-too-old"
	CodeMessageFromFuture      = "message-from-future"
	CodeInvalidSequence        = "invalid-sequence-number"
	CodeInvalidExchangeRole    = "invalid-exchange-role"
	CodeUnauthorized           = "unauthorized"
	CodeInternal               = "internal"
)

// CodeOf extracts the error code, or empty when err carries none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := oops.AsOops(err); ok {
		if code, ok := e.Code().(string); ok {
			return code
		}
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool { return CodeOf(err) == code }
