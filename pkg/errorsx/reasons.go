package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSessionNotStarted     ReasonCode = "session_not_started"
	ReasonSessionAlreadyStarted ReasonCode = "session_already_started"
	ReasonSessionClosed         ReasonCode = "session_closed"

	ReasonUpstreamConnect     ReasonCode = "upstream_connect"
	ReasonUpstreamUnavailable ReasonCode = "upstream_unavailable"
	ReasonUpstreamTransport   ReasonCode = "upstream_transport"
	ReasonUpstreamRejected    ReasonCode = "upstream_rejected"

	ReasonCallerTransport ReasonCode = "caller_transport"
	ReasonCallerProtocol  ReasonCode = "caller_protocol"

	ReasonDebugDump ReasonCode = "debug_dump"
)
