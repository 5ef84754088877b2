package domain

import "errors"

// Pipeline error kinds. Components wrap these with context via %w.
var (
	// ErrFeed is a transport-level feed failure. Fatal to the event sequence.
	ErrFeed = errors.New("feed error")

	// ErrDecode is returned for a malformed payload. Only that event is skipped.
	ErrDecode = errors.New("decode error")

	// ErrClassificationReject means the event carries no usable trade.
	ErrClassificationReject = errors.New("classification rejected")

	// ErrRouteUnavailable means no pool keys or no quote could be resolved.
	ErrRouteUnavailable = errors.New("route unavailable")

	// ErrInsufficientFunds means the computed spendable amount is not positive.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBuildFailure is an instruction or signing error.
	ErrBuildFailure = errors.New("build failure")

	// ErrSubmissionFailure is a relay, broadcast or on-chain execution rejection.
	ErrSubmissionFailure = errors.New("submission failure")

	// ErrConfirmationTimeout means the bound blockhash expired before the transaction landed.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// ErrorKind is the taxonomy label of a pipeline error.
type ErrorKind string

// Error kinds, used as log fields and metric labels.
const (
	KindNone                ErrorKind = ""
	KindFeed                ErrorKind = "feed"
	KindDecode              ErrorKind = "decode"
	KindClassification      ErrorKind = "classification_reject"
	KindRouteUnavailable    ErrorKind = "route_unavailable"
	KindInsufficientFunds   ErrorKind = "insufficient_funds"
	KindBuildFailure        ErrorKind = "build_failure"
	KindSubmissionFailure   ErrorKind = "submission_failure"
	KindConfirmationTimeout ErrorKind = "confirmation_timeout"
	KindUnknown             ErrorKind = "unknown"
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrFeed, KindFeed},
	{ErrDecode, KindDecode},
	{ErrClassificationReject, KindClassification},
	{ErrRouteUnavailable, KindRouteUnavailable},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrBuildFailure, KindBuildFailure},
	{ErrSubmissionFailure, KindSubmissionFailure},
	{ErrConfirmationTimeout, KindConfirmationTimeout},
}

// Kind maps err to its taxonomy label.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
