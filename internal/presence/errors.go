package presence

import "errors"

// Errors returned for refused user operations. Misdirected protocol
// messages are ignored rather than reported.
var (
	ErrInvalidName    = errors.New("player name is required")
	ErrNameTooLong    = errors.New("player name exceeds 30 bytes")
	ErrNoAddress      = errors.New("own address is required")
	ErrNotInGuildHall = errors.New("not in the guild hall")
	ErrBusy           = errors.New("already creating or joining a game")
	ErrNotHosting     = errors.New("not hosting a game")
	ErrNotJoining     = errors.New("not joining a game")
	ErrUnknownGame    = errors.New("no open game with that group")
	ErrInvalidLevel   = errors.New("starting level must be an adventure level")
	ErrNotLaunched    = errors.New("no adventure in progress")
)
