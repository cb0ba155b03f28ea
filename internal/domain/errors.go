package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid pair state")
	ErrInvalidCapital = errors.New("invalid order capital")
	ErrNoTicker       = errors.New("no ticker available")
	ErrNoBalance      = errors.New("exchange does not expose a tradable balance")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
)
