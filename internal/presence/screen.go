package presence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/guildhall-project/guildhall/internal/roster"
)

// Screen identifies the active top-level screen. Any value other than
// the named ones is an adventure level.
type Screen uint16

const (
	ScreenNone      Screen = 0
	ScreenTown      Screen = 1
	ScreenGuildHall Screen = 2
)

// IsLevel reports whether s is an adventure level.
func (s Screen) IsLevel() bool {
	return s != ScreenNone && s != ScreenTown && s != ScreenGuildHall
}

func (s Screen) String() string {
	switch s {
	case ScreenNone:
		return "none"
	case ScreenTown:
		return "town"
	case ScreenGuildHall:
		return "guild_hall"
	default:
		return "level_" + strconv.Itoa(int(s))
	}
}

// ParseScreen accepts "none", "town", "guild_hall", "level_N" or a bare
// screen number.
func ParseScreen(name string) (Screen, error) {
	switch name {
	case "none":
		return ScreenNone, nil
	case "town":
		return ScreenTown, nil
	case "guild_hall", "hall":
		return ScreenGuildHall, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, "level_"), 10, 16)
	if err != nil {
		return ScreenNone, fmt.Errorf("unknown screen %q", name)
	}
	return Screen(n), nil
}

// LocationFor derives a location from the active screen.
func LocationFor(s Screen) roster.Location {
	switch {
	case s == ScreenTown:
		return roster.LocationTown
	case s == ScreenGuildHall:
		return roster.LocationGuildHall
	case s.IsLevel():
		return roster.LocationInGame
	default:
		return roster.LocationNowhere
	}
}

// SetScreen switches the active screen. Entering or leaving the guild
// hall cancels any negotiation and resets the roster view. The change is
// announced immediately.
func (s *Service) SetScreen(screen Screen) {
	if screen == s.screen {
		return
	}
	from, to := s.Location(), LocationFor(screen)
	hallBoundary := from != to && (from == roster.LocationGuildHall || to == roster.LocationGuildHall)

	if hallBoundary && from == roster.LocationGuildHall {
		switch s.activity {
		case roster.ActivityCreatingGame:
			_ = s.CancelCreate()
		case roster.ActivityJoiningGame:
			_ = s.CancelJoin()
		}
	}

	s.screen = screen
	if hallBoundary {
		s.Reset()
	}

	s.logger.Info().
		Str("screen", screen.String()).
		Str("location", to.String()).
		Msg("screen changed")
	s.Announce()
}
