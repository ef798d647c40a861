package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/peer"
)

// Adventure is one launched adventure as seen by this client.
type Adventure struct {
	ID            string         `json:"id"`
	GroupID       peer.Address   `json:"group_id"`
	AdventureID   uint16         `json:"adventure_id"`
	QuestID       uint16         `json:"quest_id"`
	StartingLevel uint16         `json:"starting_level"`
	Hosted        bool           `json:"hosted"`
	Members       []peer.Address `json:"members"`
	Outcome       string         `json:"outcome"`
	Delivered     int            `json:"delivered"`
	Failed        int            `json:"failed"`
	LaunchedAt    time.Time      `json:"launched_at"`
	ConcludedAt   *time.Time     `json:"concluded_at,omitempty"`
}

// HistoryStore persists launches and outcomes. A delivery report that
// arrives before its launch row exists is held until the launch is
// recorded.
type HistoryStore struct {
	mu      sync.Mutex
	db      *Database
	self    peer.Address
	reports map[peer.Address]events.LaunchReportPayload
}

// NewHistoryStore opens the history database and migrates its schema.
// self identifies adventures this client hosted.
func NewHistoryStore(dbPath string, self peer.Address) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{
		db:      database,
		self:    self,
		reports: make(map[peer.Address]events.LaunchReportPayload),
	}
	if err := database.Migrate(historyMigrations); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return hs, nil
}

// historyMigrations are applied in order; append, never edit.
var historyMigrations = []string{
	`CREATE TABLE adventures (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		adventure_id INTEGER NOT NULL,
		quest_id INTEGER NOT NULL,
		starting_level INTEGER NOT NULL,
		hosted INTEGER NOT NULL DEFAULT 0,
		members TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT 'started',
		delivered INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		launched_at INTEGER NOT NULL,
		concluded_at INTEGER
	);
	CREATE INDEX idx_adventures_group ON adventures(group_id, concluded_at);
	CREATE INDEX idx_adventures_launched ON adventures(launched_at);`,
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// RecordLaunch stores a newly started adventure and returns its id.
func (hs *HistoryStore) RecordLaunch(status events.GameStatusPayload, at time.Time) (string, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	id := uuid.NewString()
	hosted := status.GroupID == hs.self
	report := hs.reports[status.GroupID]
	delete(hs.reports, status.GroupID)

	_, err := hs.db.Exec(`
		INSERT INTO adventures (id, group_id, adventure_id, quest_id, starting_level, hosted, members, outcome,
		                        delivered, failed, launched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, status.GroupID.String(), status.AdventureID, status.QuestID, status.StartingLevel,
		hosted, joinMembers(status.Members), status.Status.String(),
		len(report.Delivered), len(report.Failed), at.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to record launch: %w", err)
	}

	log.Debug().Str("id", id).Str("group", status.GroupID.String()).Msg("adventure launch recorded")
	return id, nil
}

// RecordReport attaches groupcast delivery counts to the open adventure
// of a group.
func (hs *HistoryStore) RecordReport(report events.LaunchReportPayload) error {
	if report.Status.Has(events.StatusComplete) {
		return nil
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	res, err := hs.db.Exec(`
		UPDATE adventures SET delivered = ?, failed = ?
		WHERE id = (SELECT id FROM adventures WHERE group_id = ? AND concluded_at IS NULL
		            ORDER BY launched_at DESC LIMIT 1)`,
		len(report.Delivered), len(report.Failed), report.GroupID.String())
	if err != nil {
		return fmt.Errorf("failed to record launch report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		hs.reports[report.GroupID] = report
	}
	return nil
}

// RecordOutcome closes the open adventure of a group. It reports whether
// a row was updated.
func (hs *HistoryStore) RecordOutcome(status events.GameStatusPayload, at time.Time) (bool, error) {
	res, err := hs.db.Exec(`
		UPDATE adventures SET outcome = ?, concluded_at = ?
		WHERE id = (SELECT id FROM adventures WHERE group_id = ? AND concluded_at IS NULL
		            ORDER BY launched_at DESC LIMIT 1)`,
		status.Status.String(), at.Unix(), status.GroupID.String())
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Recent returns up to limit adventures, newest first.
func (hs *HistoryStore) Recent(limit int) ([]Adventure, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := hs.db.Query(`
		SELECT id, group_id, adventure_id, quest_id, starting_level, hosted, members,
		       outcome, delivered, failed, launched_at, concluded_at
		FROM adventures ORDER BY launched_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var result []Adventure
	for rows.Next() {
		var (
			a         Adventure
			group     string
			members   string
			launched  int64
			concluded sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &group, &a.AdventureID, &a.QuestID, &a.StartingLevel, &a.Hosted,
			&members, &a.Outcome, &a.Delivered, &a.Failed, &launched, &concluded); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		a.GroupID, _ = peer.Parse(group)
		a.Members = splitMembers(members)
		a.LaunchedAt = time.Unix(launched, 0)
		if concluded.Valid {
			t := time.Unix(concluded.Int64, 0)
			a.ConcludedAt = &t
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Prune deletes adventures launched before cutoff.
func (hs *HistoryStore) Prune(cutoff time.Time) (int64, error) {
	res, err := hs.db.Exec("DELETE FROM adventures WHERE launched_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of stored adventures.
func (hs *HistoryStore) Count() (int, error) {
	var n int
	err := hs.db.QueryRow("SELECT COUNT(*) FROM adventures").Scan(&n)
	return n, err
}

// Subscribe records adventure lifecycle events from the bus.
func (hs *HistoryStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventAdventureLaunched, "history", func(_ context.Context, ev events.Event) error {
		status, ok := ev.Payload.(events.GameStatusPayload)
		if !ok {
			return fmt.Errorf("invalid adventure launched payload")
		}
		_, err := hs.RecordLaunch(status, time.Now())
		return err
	})
	bus.Subscribe(events.EventAdventureConcluded, "history", func(_ context.Context, ev events.Event) error {
		status, ok := ev.Payload.(events.GameStatusPayload)
		if !ok {
			return fmt.Errorf("invalid adventure concluded payload")
		}
		_, err := hs.RecordOutcome(status, time.Now())
		return err
	})
	bus.Subscribe(events.EventLaunchReport, "history", func(_ context.Context, ev events.Event) error {
		report, ok := ev.Payload.(events.LaunchReportPayload)
		if !ok {
			return fmt.Errorf("invalid launch report payload")
		}
		return hs.RecordReport(report)
	})
}

func joinMembers(members []peer.Address) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ",")
}

func splitMembers(s string) []peer.Address {
	if s == "" {
		return nil
	}
	var out []peer.Address
	for _, part := range strings.Split(s, ",") {
		if a, err := peer.Parse(part); err == nil {
			out = append(out, a)
		}
	}
	return out
}
