package presence

import (
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
)

// SendResult is delivered once per reliable send, after the packet was
// acknowledged or the sender gave up.
type SendResult struct {
	To        peer.Address
	Seq       uint32
	Delivered bool
	Attempts  int
	Extra     interface{}
}

// Transport sends framed packets. SendReliable stamps a sequence number,
// retransmits until acknowledged and calls onDone exactly once.
type Transport interface {
	Broadcast(pkt []byte) error
	SendUnicast(to peer.Address, pkt []byte) error
	SendReliable(pkt []byte, to peer.Address, retryTicks int, extra interface{}, onDone func(SendResult))
}

// Hooks receives UI notifications raised while reconciling and negotiating.
type Hooks interface {
	OnGameListed(game events.GameListingPayload)
	OnGameUnlisted(game events.GameListingPayload)
	OnPlayerEnteredRoom(name string)
	OnPlayerLeftRoom(name string)
	OnPartyMemberAdded(name string)
	ClearPartyMemberList()
	OnJoinConfirmed(groupID peer.Address)
	OnJoinCanceled(groupID peer.Address)
	OnCreateConfirmed(groupID peer.Address)
	OnAdventureLaunched(status events.GameStatusPayload)
	OnAdventureConcluded(status events.GameStatusPayload)
	OnLaunchReport(report events.LaunchReportPayload)
}

// Console displays short status lines to the player.
type Console interface {
	Message(text string)
}

// NopHooks ignores every notification. Embed it to implement a subset.
type NopHooks struct{}

func (NopHooks) OnGameListed(events.GameListingPayload)        {}
func (NopHooks) OnGameUnlisted(events.GameListingPayload)      {}
func (NopHooks) OnPlayerEnteredRoom(string)                    {}
func (NopHooks) OnPlayerLeftRoom(string)                       {}
func (NopHooks) OnPartyMemberAdded(string)                     {}
func (NopHooks) ClearPartyMemberList()                         {}
func (NopHooks) OnJoinConfirmed(peer.Address)                  {}
func (NopHooks) OnJoinCanceled(peer.Address)                   {}
func (NopHooks) OnCreateConfirmed(peer.Address)                {}
func (NopHooks) OnAdventureLaunched(events.GameStatusPayload)  {}
func (NopHooks) OnAdventureConcluded(events.GameStatusPayload) {}
func (NopHooks) OnLaunchReport(events.LaunchReportPayload)     {}

type nopConsole struct{}

func (nopConsole) Message(string) {}

type nopTransport struct{}

func (nopTransport) Broadcast([]byte) error                 { return nil }
func (nopTransport) SendUnicast(peer.Address, []byte) error { return nil }
func (nopTransport) SendReliable(_ []byte, to peer.Address, _ int, extra interface{}, onDone func(SendResult)) {
	if onDone != nil {
		onDone(SendResult{To: to, Extra: extra})
	}
}
