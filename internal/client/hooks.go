package client

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
)

const eventSource = "presence"

// BusHooks publishes presence notifications on the event bus, where the
// API feed, telemetry and history store pick them up.
type BusHooks struct {
	ctx context.Context
	bus *events.EventBus
}

// NewBusHooks creates hooks emitting on bus.
func NewBusHooks(ctx context.Context, bus *events.EventBus) *BusHooks {
	return &BusHooks{ctx: ctx, bus: bus}
}

func (h *BusHooks) emit(t events.EventType, payload interface{}) {
	h.bus.Emit(h.ctx, events.Event{Type: t, Source: eventSource, Payload: payload})
}

func (h *BusHooks) OnGameListed(game events.GameListingPayload) {
	h.emit(events.EventGameListed, game)
}

func (h *BusHooks) OnGameUnlisted(game events.GameListingPayload) {
	h.emit(events.EventGameUnlisted, game)
}

func (h *BusHooks) OnPlayerEnteredRoom(name string) {
	h.emit(events.EventPlayerEnteredRoom, events.PlayerPayload{Name: name})
}

func (h *BusHooks) OnPlayerLeftRoom(name string) {
	h.emit(events.EventPlayerLeftRoom, events.PlayerPayload{Name: name})
}

func (h *BusHooks) OnPartyMemberAdded(name string) {
	h.emit(events.EventPartyMemberAdded, events.PlayerPayload{Name: name})
}

func (h *BusHooks) ClearPartyMemberList() {
	h.emit(events.EventPartyCleared, nil)
}

func (h *BusHooks) OnJoinConfirmed(groupID peer.Address) {
	h.emit(events.EventJoinConfirmed, events.GroupPayload{GroupID: groupID})
}

func (h *BusHooks) OnJoinCanceled(groupID peer.Address) {
	h.emit(events.EventJoinCanceled, events.GroupPayload{GroupID: groupID})
}

func (h *BusHooks) OnCreateConfirmed(groupID peer.Address) {
	h.emit(events.EventCreateConfirmed, events.GroupPayload{GroupID: groupID})
}

func (h *BusHooks) OnAdventureLaunched(status events.GameStatusPayload) {
	h.emit(events.EventAdventureLaunched, status)
}

func (h *BusHooks) OnAdventureConcluded(status events.GameStatusPayload) {
	h.emit(events.EventAdventureConcluded, status)
}

func (h *BusHooks) OnLaunchReport(report events.LaunchReportPayload) {
	h.emit(events.EventLaunchReport, report)
}

// BusConsole logs console lines and mirrors them onto the bus.
type BusConsole struct {
	hooks *BusHooks
}

// NewBusConsole creates a console sharing the hooks' bus.
func NewBusConsole(hooks *BusHooks) *BusConsole {
	return &BusConsole{hooks: hooks}
}

func (c *BusConsole) Message(text string) {
	log.Info().Str("component", "console").Msg(text)
	c.hooks.emit(events.EventConsoleMessage, events.ConsoleMessagePayload{Text: text})
}
