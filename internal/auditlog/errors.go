package auditlog

import "errors"

// Diagnostic taxonomy. None of these alter the outcome of the observed call.
var (
	// ErrMissingInitiator marks an in-scope call without an initiator header.
	ErrMissingInitiator = errors.New("missing initiator header")
	// ErrBodyParse marks a request body that claimed JSON but did not parse.
	ErrBodyParse = errors.New("request body parse failure")
	// ErrLogWrite marks a failed append to the audit file.
	ErrLogWrite = errors.New("audit log write failure")
	// ErrLogSink marks a host structured sink rejecting an entry.
	ErrLogSink = errors.New("host log sink failure")
)

// Diagnostic kind labels, as used for metrics and host log throttling.
const (
	KindMissingInitiator = "missing_initiator"
	KindBodyParse        = "body_parse"
	KindLogWrite         = "log_write"
	KindLogSink          = "log_sink"
	KindInternal         = "internal"
)

// KindOf classifies err into a diagnostic kind label.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrMissingInitiator):
		return KindMissingInitiator
	case errors.Is(err, ErrBodyParse):
		return KindBodyParse
	case errors.Is(err, ErrLogWrite):
		return KindLogWrite
	case errors.Is(err, ErrLogSink):
		return KindLogSink
	default:
		return KindInternal
	}
}
