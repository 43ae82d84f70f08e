package activitypub

import "errors"

// Failure kinds for the federation protocol. Handlers wrap these so the
// web layer and the durable request records can branch on kind instead of
// parsing message text.
var (
	ErrProtocol      = errors.New("protocol error")
	ErrAuthorization = errors.New("authorization denied")
	ErrNotFound      = errors.New("not found")
	ErrDiscovery     = errors.New("discovery failed")
	ErrDelivery      = errors.New("delivery failed")
	ErrSync          = errors.New("sync failed")
)

// ErrorKind returns the stable kind label for err, or "internal" when the
// error wraps none of the protocol kinds.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDiscovery):
		return "discovery"
	case errors.Is(err, ErrDelivery):
		return "delivery"
	case errors.Is(err, ErrSync):
		return "sync"
	}
	return "internal"
}
