package transport

import "errors"

// ErrSendFailed indicates a command publish did not reach the broker.
// The dispatcher treats it the same as an acknowledgement timeout.
var ErrSendFailed = errors.New("transport: send failed")
