package rpcchannel

import "errors"

// ErrUnavailable is returned by CallUnary when the channel is known to be
// disconnected; the caller never reaches the backend in that case.
var ErrUnavailable = errors.New("rpcchannel: unavailable")
