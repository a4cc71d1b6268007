package telemetry

import "errors"

// ErrNotConnected is returned by publish operations before Connect succeeds.
var ErrNotConnected = errors.New("telemetry: broker session not connected")

// ConnectError reports a failed broker connection, TLS handshake, auth or
// subscription. It is fatal for the current boot cycle.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "telemetry: connect: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PublishError reports a transport failure while publishing or polling.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	if e.Topic == "" {
		return "telemetry: session: " + e.Err.Error()
	}
	return "telemetry: publish " + e.Topic + ": " + e.Err.Error()
}

func (e *PublishError) Unwrap() error { return e.Err }
