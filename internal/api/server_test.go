package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/guildhall-project/guildhall/internal/config"
	"github.com/guildhall-project/guildhall/internal/db"
	"github.com/guildhall-project/guildhall/internal/events"
	"github.com/guildhall-project/guildhall/internal/network"
	"github.com/guildhall-project/guildhall/internal/peer"
	"github.com/guildhall-project/guildhall/internal/presence"
	"github.com/guildhall-project/guildhall/internal/roster"
)

// fakePresence runs commands directly on a service under a mutex.
type fakePresence struct {
	mu    sync.Mutex
	svc   *presence.Service
	peers *network.PeerTable
}

func (f *fakePresence) Do(_ context.Context, fn func(*presence.Service) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f.svc)
}

func (f *fakePresence) Running() bool             { return true }
func (f *fakePresence) Ticks() uint64             { return 7 }
func (f *fakePresence) Peers() *network.PeerTable { return f.peers }

// silentTransport drops everything and never completes reliable sends.
type silentTransport struct{}

func (silentTransport) Broadcast([]byte) error                 { return nil }
func (silentTransport) SendUnicast(peer.Address, []byte) error { return nil }
func (silentTransport) SendReliable([]byte, peer.Address, int, interface{}, func(presence.SendResult)) {
}

type fakeHistory struct {
	adventures []db.Adventure
}

func (f *fakeHistory) Recent(limit int) ([]db.Adventure, error) {
	if limit < len(f.adventures) {
		return f.adventures[:limit], nil
	}
	return f.adventures, nil
}

func (f *fakeHistory) Count() (int, error) { return len(f.adventures), nil }

func addr(t *testing.T, last byte) peer.Address {
	t.Helper()
	a, err := peer.New(net.IPv4(10, 0, 0, last), 27900)
	if err != nil {
		t.Fatalf("failed to build address: %v", err)
	}
	return a
}

func newTestServer(t *testing.T, history History) (*Server, *fakePresence, *events.EventBus) {
	t.Helper()
	svc, err := presence.New(presence.Options{
		Name:      "alice",
		Self:      addr(t, 1),
		Transport: silentTransport{},
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.PlayerData.PlayerName = "alice"
	cfg.ApplicationData.Security.RateLimitRPS = 0

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	fp := &fakePresence{svc: svc, peers: network.NewPeerTable()}
	return NewServer(cfg, bus, fp, history, nil), fp, bus
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
}

func TestPing(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/public/ping", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"guildhall"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestCreateGameOutsideHallConflicts(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/games", `{"adventure_id":3,"quest_id":1}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateGameInHall(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	if rec := do(t, s, http.MethodPost, "/api/presence/screen", `{"screen":"guild_hall"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on screen change, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := do(t, s, http.MethodPost, "/api/games", `{"adventure_id":3,"quest_id":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Local struct {
			Activity    string `json:"activity"`
			AdventureID uint16 `json:"adventure_id"`
			GroupID     string `json:"group_id"`
		} `json:"local"`
	}
	decode(t, rec, &resp)
	if resp.Local.Activity != "creating_game" {
		t.Fatalf("expected creating_game, got %q", resp.Local.Activity)
	}
	if resp.Local.GroupID != "10.0.0.1:27900" {
		t.Fatalf("expected own address as group, got %q", resp.Local.GroupID)
	}

	rec = do(t, s, http.MethodPost, "/api/games", `{"adventure_id":4}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while busy, got %d", rec.Code)
	}
}

func TestListAndJoinGame(t *testing.T) {
	s, fp, _ := newTestServer(t, nil)
	host := addr(t, 2)

	_ = fp.Do(context.Background(), func(svc *presence.Service) error {
		svc.SetScreen(presence.ScreenGuildHall)
		svc.Reconcile(roster.PlayerRecord{
			Name:        "bob",
			Address:     host,
			Location:    roster.LocationGuildHall,
			Activity:    roster.ActivityCreatingGame,
			GroupID:     host,
			AdventureID: 9,
		})
		return nil
	})

	rec := do(t, s, http.MethodGet, "/api/games", "")
	var games struct {
		Games []events.GameListingPayload `json:"games"`
	}
	decode(t, rec, &games)
	if len(games.Games) != 1 || games.Games[0].Host != "bob" {
		t.Fatalf("expected bob's game, got %+v", games.Games)
	}

	rec = do(t, s, http.MethodPost, "/api/games/join", `{"group_id":"`+host.String()+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"joining_game"`) {
		t.Fatalf("expected joining_game, got %s", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/presence/party", "")
	var party struct {
		Members []roster.PlayerRecord `json:"members"`
	}
	decode(t, rec, &party)
	// we are announced into the group only once the host accepts
	if len(party.Members) != 1 || party.Members[0].Name != "bob" {
		t.Fatalf("expected only the host in the party preview, got %+v", party.Members)
	}
}

func TestJoinRejectsBadGroup(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/games/join", `{"group_id":"not-an-address"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestJoinUnknownGame(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/api/presence/screen", `{"screen":"guild_hall"}`)

	rec := do(t, s, http.MethodPost, "/api/games/join", `{"group_id":"10.0.0.9:27900"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOutcomeRequiresSuccessField(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/adventure/outcome", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/adventure/outcome", `{"success":false}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a launched adventure, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	if rec := do(t, s, http.MethodGet, "/api/monitor/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without history, got %d", rec.Code)
	}

	hist := &fakeHistory{adventures: []db.Adventure{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	s, _, _ = newTestServer(t, hist)

	rec := do(t, s, http.MethodGet, "/api/monitor/history?limit=2", "")
	var resp struct {
		Adventures []db.Adventure `json:"adventures"`
		Total      int            `json:"total"`
	}
	decode(t, rec, &resp)
	if len(resp.Adventures) != 2 || resp.Total != 3 {
		t.Fatalf("expected 2 of 3 adventures, got %d of %d", len(resp.Adventures), resp.Total)
	}

	if rec := do(t, s, http.MethodGet, "/api/monitor/history?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestSetAppDataValidates(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.cfg.SetPath(t.TempDir() + "/config.json")

	app := s.cfg.GetApplicationData()
	app.Timers.TickIntervalMs = 0
	body, _ := json.Marshal(app)

	rec := do(t, s, http.MethodPost, "/api/configure/app_data", string(body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()

	if !rl.allow("1.2.3.4", now) || !rl.allow("1.2.3.4", now) {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.allow("1.2.3.4", now) {
		t.Fatal("expected third request to be limited")
	}
	if !rl.allow("1.2.3.4", now.Add(time.Second)) {
		t.Fatal("expected refill after one second")
	}
}

func TestAllowList(t *testing.T) {
	router := gin.New()
	router.Use(AllowList([]string{"10.1.0.0/16", "192.168.1.9", "bogus"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := map[string]int{
		"10.1.2.3:4000":    http.StatusNoContent,
		"192.168.1.9:4000": http.StatusNoContent,
		"127.0.0.1:4000":   http.StatusNoContent,
		"10.2.0.1:4000":    http.StatusForbidden,
	}
	for remote, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", remote, want, rec.Code)
		}
	}
}

func TestFeedStreamsEvents(t *testing.T) {
	s, _, bus := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.feed.Start(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.feed.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerEnteredRoom,
		Source:  "presence",
		Payload: events.PlayerPayload{Name: "bob"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg struct {
		Type    string               `json:"type"`
		Payload events.PlayerPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg.Type != string(events.EventPlayerEnteredRoom) || msg.Payload.Name != "bob" {
		t.Fatalf("unexpected message: %s", data)
	}
}
