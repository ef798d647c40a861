// Package cli implements the interactive console for the Guild Hall
// client. It shows the roster, open games and history as tables, drives
// the presence operations and prints console messages from the core.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/db"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/network"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/roster"
	"github.com/guildhall-project/guildhall/internal/scheduler"
)

// Loop is the client surface the console drives.
type Loop interface {
	Do(ctx context.Context, fn func(*presence.Service) error) error
	Peers() *network.PeerTable
}

// History reads stored adventures.
type History interface {
	Recent(limit int) ([]db.Adventure, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	loop     Loop
	history  History
	in       io.Reader
	out      io.Writer
}

// NewCLI creates a console on stdin/stdout. history may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, loop Loop, history History) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		loop:     loop,
		history:  history,
		in:       os.Stdin,
		out:      os.Stdout,
	}
}

// Start runs the read-eval loop until ctx is canceled or input ends.
func (c *CLI) Start(ctx context.Context) {
	c.eventBus.Subscribe(events.EventConsoleMessage, "cli", c.onConsoleMessage)
	c.eventBus.Subscribe(events.EventLaunchReport, "cli", c.onLaunchReport)
	defer c.eventBus.Unsubscribe(events.EventConsoleMessage, "cli")
	defer c.eventBus.Unsubscribe(events.EventLaunchReport, "cli")

	fmt.Fprintln(c.out, "\nGuild Hall console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(c.out, "guildhall> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			log.Debug().Str("command", parts[0]).Msg("console command")
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

func (c *CLI) onConsoleMessage(_ context.Context, event events.Event) error {
	if msg, ok := event.Payload.(events.ConsoleMessagePayload); ok {
		fmt.Fprintf(c.out, "\n» %s\n", msg.Text)
	}
	return nil
}

func (c *CLI) onLaunchReport(_ context.Context, event events.Event) error {
	report, ok := event.Payload.(events.LaunchReportPayload)
	if !ok {
		return nil
	}
	fmt.Fprintf(c.out, "\n» %s delivered to %d of %d party members\n",
		report.Status, len(report.Delivered), len(report.Delivered)+len(report.Failed))
	for _, a := range report.Failed {
		fmt.Fprintf(c.out, "  no answer from %s\n", a)
	}
	return nil
}

// execute processes a single console command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus(ctx)
	case "roster", "who":
		return c.printRoster(ctx)
	case "room":
		return c.printRoom(ctx)
	case "games", "g":
		return c.printGames(ctx)
	case "party":
		return c.printParty(ctx, args)
	case "screen":
		return c.cmdScreen(ctx, args)
	case "create":
		return c.cmdCreate(ctx, args)
	case "cancel":
		return c.cmdCancel(ctx)
	case "join":
		return c.cmdJoin(ctx, args)
	case "launch":
		return c.cmdLaunch(ctx, args)
	case "outcome":
		return c.cmdOutcome(ctx, args)
	case "history":
		return c.printHistory(args)
	case "peers":
		c.printPeers()
	case "stats":
		return c.printStats(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Leaving the guild hall...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                   Guild Hall Console Commands                ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status              Show our presence state                 ║")
	fmt.Fprintln(c.out, "║  roster              List every known player                 ║")
	fmt.Fprintln(c.out, "║  room                List players at our location            ║")
	fmt.Fprintln(c.out, "║  games               List open games in the guild hall       ║")
	fmt.Fprintln(c.out, "║  party [group]       Show the members of a group             ║")
	fmt.Fprintln(c.out, "║  screen <name>       town | guild_hall | none | level_N      ║")
	fmt.Fprintln(c.out, "║  create <adv> [q]    Host a game for an adventure            ║")
	fmt.Fprintln(c.out, "║  cancel              Cancel hosting or joining               ║")
	fmt.Fprintln(c.out, "║  join <#|group>      Join a listed game                      ║")
	fmt.Fprintln(c.out, "║  launch <level>      Launch the hosted adventure             ║")
	fmt.Fprintln(c.out, "║  outcome <win|lose>  Report how the adventure ended          ║")
	fmt.Fprintln(c.out, "║  history [n]         Show recent adventures                  ║")
	fmt.Fprintln(c.out, "║  peers               Show traffic per peer                   ║")
	fmt.Fprintln(c.out, "║  stats               Show roster counts                      ║")
	fmt.Fprintln(c.out, "║  quit                Leave and shut down                     ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus(ctx context.Context) error {
	var local presence.LocalState
	if err := c.loop.Do(ctx, func(svc *presence.Service) error {
		local = svc.Local()
		return nil
	}); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  Player:     %s\n", local.Name)
	fmt.Fprintf(c.out, "  Address:    %s\n", local.Address)
	fmt.Fprintf(c.out, "  Screen:     %s\n", local.Screen)
	fmt.Fprintf(c.out, "  Location:   %s\n", local.Location)
	fmt.Fprintf(c.out, "  Activity:   %s\n", local.Activity)
	fmt.Fprintf(c.out, "  Group:      %s\n", local.GroupID)
	fmt.Fprintf(c.out, "  Adventure:  %d (quest %d)\n", local.AdventureID, local.QuestID)
	if len(local.Pending) > 0 {
		fmt.Fprintf(c.out, "  Joiners:    %s\n", joinAddresses(local.Pending))
	}
	if local.Launched != nil {
		fmt.Fprintf(c.out, "  Launched:   adventure %d at level %d with %s\n",
			local.Launched.AdventureID, local.Launched.StartingLevel, joinAddresses(local.Launched.Members))
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printRecords(records []roster.PlayerRecord) {
	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"Name", "Address", "Location", "Activity", "Group", "Adventure"})
	for _, rec := range records {
		tw.Append([]string{
			rec.Name,
			rec.Address.String(),
			rec.Location.String(),
			rec.Activity.String(),
			rec.GroupID.String(),
			strconv.Itoa(int(rec.AdventureID)),
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) printRoster(ctx context.Context) error {
	var records []roster.PlayerRecord
	if err := c.loop.Do(ctx, func(svc *presence.Service) error {
		records = svc.Roster().Snapshot()
		return nil
	}); err != nil {
		return err
	}
	c.printRecords(records)
	return nil
}

func (c *CLI) printRoom(ctx context.Context) error {
	var records []roster.PlayerRecord
	if err := c.loop.Do(ctx, func(svc *presence.Service) error {
		records = svc.Room()
		return nil
	}); err != nil {
		return err
	}
	c.printRecords(records)
	return nil
}

func (c *CLI) openGames(ctx context.Context) ([]events.GameListingPayload, error) {
	var games []events.GameListingPayload
	err := c.loop.Do(ctx, func(svc *presence.Service) error {
		games = svc.OpenGames()
		return nil
	})
	return games, err
}

func (c *CLI) printGames(ctx context.Context) error {
	games, err := c.openGames(ctx)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Fprintln(c.out, "No open games.")
		return nil
	}

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"#", "Host", "Group", "Adventure", "Quest"})
	for i, g := range games {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			g.Host,
			g.GroupID.String(),
			strconv.Itoa(int(g.AdventureID)),
			strconv.Itoa(int(g.QuestID)),
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printParty(ctx context.Context, args []string) error {
	var group peer.Address
	if len(args) > 0 {
		parsed, err := peer.ParseAny(args[0])
		if err != nil {
			return err
		}
		group = parsed
	}

	var records []roster.PlayerRecord
	if err := c.loop.Do(ctx, func(svc *presence.Service) error {
		if group.IsBlank() {
			group = svc.Local().GroupID
		}
		records = svc.Party(group)
		return nil
	}); err != nil {
		return err
	}
	if group.IsBlank() {
		fmt.Fprintln(c.out, "Not in a group.")
		return nil
	}
	c.printRecords(records)
	return nil
}

// apply runs a presence operation and prints the resulting activity.
func (c *CLI) apply(ctx context.Context, op func(*presence.Service) error) error {
	var local presence.LocalState
	if err := c.loop.Do(ctx, func(svc *presence.Service) error {
		if err := op(svc); err != nil {
			return err
		}
		local = svc.Local()
		return nil
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s, %s\n", local.Location, local.Activity)
	return nil
}

func (c *CLI) cmdScreen(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: screen <town|guild_hall|none|level_N>")
	}
	screen, err := presence.ParseScreen(args[0])
	if err != nil {
		return err
	}
	return c.apply(ctx, func(svc *presence.Service) error {
		svc.SetScreen(screen)
		return nil
	})
}

func (c *CLI) cmdCreate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: create <adventure> [quest]")
	}
	adventure, err := parseUint16(args[0], "adventure")
	if err != nil {
		return err
	}
	var quest uint16
	if len(args) > 1 {
		if quest, err = parseUint16(args[1], "quest"); err != nil {
			return err
		}
	}
	return c.apply(ctx, func(svc *presence.Service) error {
		return svc.CreateGame(adventure, quest)
	})
}

func (c *CLI) cmdCancel(ctx context.Context) error {
	return c.apply(ctx, func(svc *presence.Service) error {
		switch svc.Local().Activity {
		case roster.ActivityCreatingGame:
			return svc.CancelCreate()
		case roster.ActivityJoiningGame:
			return svc.CancelJoin()
		default:
			return errors.New("nothing to cancel")
		}
	})
}

func (c *CLI) cmdJoin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: join <#|group>")
	}

	var group peer.Address
	if n, err := strconv.Atoi(args[0]); err == nil {
		games, err := c.openGames(ctx)
		if err != nil {
			return err
		}
		if n < 1 || n > len(games) {
			return fmt.Errorf("no game #%d, see 'games'", n)
		}
		group = games[n-1].GroupID
	} else {
		parsed, err := peer.ParseAny(args[0])
		if err != nil {
			return err
		}
		group = parsed
	}

	return c.apply(ctx, func(svc *presence.Service) error {
		return svc.JoinGame(group)
	})
}

func (c *CLI) cmdLaunch(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: launch <level>")
	}
	level, err := parseUint16(args[0], "level")
	if err != nil {
		return err
	}
	return c.apply(ctx, func(svc *presence.Service) error {
		return svc.LaunchGame(level)
	})
}

func (c *CLI) cmdOutcome(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: outcome <win|lose>")
	}
	var success bool
	switch strings.ToLower(args[0]) {
	case "win", "success", "yes":
		success = true
	case "lose", "failure", "no":
		success = false
	default:
		return fmt.Errorf("outcome must be win or lose")
	}
	return c.apply(ctx, func(svc *presence.Service) error {
		return svc.ReportOutcome(success)
	})
}

func (c *CLI) printHistory(args []string) error {
	if c.history == nil {
		return fmt.Errorf("history is not enabled")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	adventures, err := c.history.Recent(limit)
	if err != nil {
		return err
	}
	if len(adventures) == 0 {
		fmt.Fprintln(c.out, "No adventures recorded.")
		return nil
	}

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"Launched", "Adventure", "Level", "Hosted", "Members", "Delivered", "Outcome"})
	for _, a := range adventures {
		hosted := "no"
		if a.Hosted {
			hosted = "yes"
		}
		tw.Append([]string{
			a.LaunchedAt.Local().Format(time.DateTime),
			strconv.Itoa(int(a.AdventureID)),
			strconv.Itoa(int(a.StartingLevel)),
			hosted,
			strconv.Itoa(len(a.Members)),
			fmt.Sprintf("%d/%d", a.Delivered, a.Delivered+a.Failed),
			a.Outcome,
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printPeers() {
	peers := c.loop.Peers().All()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "No peers heard yet.")
		return
	}

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"Address", "Packets", "Rejected", "Last Seen"})
	for _, p := range peers {
		tw.Append([]string{
			p.Address.String(),
			strconv.FormatUint(p.Packets, 10),
			strconv.FormatUint(p.Rejected, 10),
			time.Since(p.LastSeen).Truncate(time.Second).String() + " ago",
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) printStats(ctx context.Context) error {
	stats, err := scheduler.CollectRosterStats(ctx, c.loop)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "present %d (town %d, hall %d, in level %d), open games %d\n",
		stats.Present, stats.Town, stats.GuildHall, stats.InLevel, stats.OpenGames)
	return nil
}

func parseUint16(s, what string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", what, s)
	}
	return uint16(n), nil
}

func joinAddresses(addrs []peer.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
