package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/dicerace/games/race"
	"github.com/Seednode/dicerace/games/race/dice"
	"github.com/Seednode/dicerace/games/race/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RaceServerTestSuite struct {
	suite.Suite
	cfg    *Config
	store  *store.Memory
	gm     *GameManager
	errs   chan error
	server *httptest.Server
}

func (s *RaceServerTestSuite) SetupTest() {
	s.cfg = &Config{port: 8080, sessionTimeout: time.Hour}
	s.store = store.NewMemory(time.Hour)
	s.errs = make(chan error, 64)
	s.gm = newGameManager(s.cfg, s.store, dice.NewSequence(5))
	s.server = httptest.NewServer(newRouter(s.cfg, s.gm, s.errs))
}

func (s *RaceServerTestSuite) TearDownTest() {
	s.gm.stop()
	s.server.Close()
}

func TestRaceServerTestSuite(t *testing.T) {
	suite.Run(t, new(RaceServerTestSuite))
}

// wsDial connects to a game's socket. query and header may be empty.
func wsDial(s *suite.Suite, server *httptest.Server, gameID, query string, header http.Header) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/race/" + gameID + "/ws" + query

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	s.Require().NoError(err)
	resp.Body.Close()

	return conn
}

func wsRead(s *suite.Suite, conn *websocket.Conn) GameStateMessage {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))

	var msg GameStateMessage
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Equal("game_state", msg.Type)

	return msg
}

func wsSend(s *suite.Suite, conn *websocket.Conn, kind string) {
	s.Require().NoError(conn.WriteJSON(ClientMessage{Type: kind}))
}

func httpGet(s *suite.Suite, server *httptest.Server, path string) *http.Response {
	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(server.URL + path)
	s.Require().NoError(err)

	return resp
}

func (s *RaceServerTestSuite) dial(gameID string) *websocket.Conn {
	return wsDial(&s.Suite, s.server, gameID, "", nil)
}

func (s *RaceServerTestSuite) read(conn *websocket.Conn) GameStateMessage {
	return wsRead(&s.Suite, conn)
}

func (s *RaceServerTestSuite) send(conn *websocket.Conn, kind string) {
	wsSend(&s.Suite, conn, kind)
}

func (s *RaceServerTestSuite) get(path string) *http.Response {
	return httpGet(&s.Suite, s.server, path)
}

func (s *RaceServerTestSuite) TestNewGameRedirects() {
	resp := s.get("/race")
	defer resp.Body.Close()

	s.Equal(http.StatusTemporaryRedirect, resp.StatusCode)

	location := resp.Header.Get("Location")
	s.True(strings.HasPrefix(location, "/race/"))
	s.True(validGameID(strings.TrimPrefix(location, "/race/")))
	s.Len(strings.TrimPrefix(location, "/race/"), 8)
}

func (s *RaceServerTestSuite) TestIndexSetsClientCookie() {
	resp := s.get("/race/abcd1234")
	defer resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), `/assets/race/app.js`)
	s.NotContains(string(body), "{{PREFIX}}")

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == clientCookieName {
			found = true
		}
	}
	s.True(found)
}

func (s *RaceServerTestSuite) TestInvalidGameID() {
	resp := s.get("/race/not.valid/state")
	defer resp.Body.Close()

	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *RaceServerTestSuite) TestRollAndResetOverWebsocket() {
	conn := s.dial("game1")
	defer conn.Close()

	first := s.read(conn)
	s.Equal(race.New(), first.Game)
	s.Nil(first.Board.Reveal)
	s.Equal("Current turn: Player 1", first.Panel.Banner)

	s.send(conn, "roll")
	rolled := s.read(conn)
	s.Equal(5, rolled.Game.Positions[0])
	s.Equal(1, rolled.Game.CurrentPlayer)
	s.Require().NotNil(rolled.Board.Reveal)
	s.Equal(5, rolled.Board.Reveal.Value)
	s.Equal(5, rolled.Board.Tokens[0].To.Position)
	s.False(rolled.Board.Tokens[0].From.OnBoard)
	s.Equal([]string{"1. Player 1 → dice 5 → position 5"}, rolled.Panel.History)

	stored, err := s.store.Load(context.Background(), "game1")
	s.Require().NoError(err)
	s.Equal(rolled.Game, stored)

	s.send(conn, "bogus")
	s.send(conn, "reset")
	reset := s.read(conn)
	s.Equal(race.New(), reset.Game)
	s.Equal(5, reset.Board.Tokens[0].From.Position, "animates back from the last shown cell")
}

func (s *RaceServerTestSuite) TestClientsShareStateButNotAnimation() {
	a := s.dial("shared")
	defer a.Close()
	s.read(a)

	s.send(a, "roll")
	s.read(a)

	b := s.dial("shared")
	defer b.Close()

	joined := s.read(b)
	s.Equal(5, joined.Game.Positions[0])
	s.False(joined.Board.Tokens[0].From.OnBoard, "new client starts from the staging area")

	s.send(b, "roll")
	fromA := s.read(a)
	fromB := s.read(b)
	s.Equal(fromA.Game, fromB.Game)
	s.Equal(5, fromA.Game.Positions[1])
	s.Equal(5, fromA.Board.Tokens[0].From.Position)
}

func (s *RaceServerTestSuite) TestTabsOfOneBrowserAnimateIndependently() {
	header := http.Header{}
	header.Set("Cookie", clientCookieName+"="+"5d0c1f38-8f6e-4c43-9a3e-0d8b8a5b2f11")

	first := wsDial(&s.Suite, s.server, "tabs", "?tab=first", header)
	defer first.Close()
	s.read(first)

	second := wsDial(&s.Suite, s.server, "tabs", "?tab=second", header)
	defer second.Close()
	s.read(second)

	s.send(first, "roll")
	a := s.read(first)
	b := s.read(second)

	for _, msg := range []GameStateMessage{a, b} {
		s.False(msg.Board.Tokens[0].From.OnBoard, "each tab slides in from the staging area")
		s.Equal(5, msg.Board.Tokens[0].To.Position)
	}

	// reloading a tab resumes from what that tab last showed
	s.Require().NoError(first.Close())
	again := wsDial(&s.Suite, s.server, "tabs", "?tab=first", header)
	defer again.Close()

	resumed := s.read(again)
	s.Equal(5, resumed.Board.Tokens[0].From.Position)
}

func (s *RaceServerTestSuite) TestRollAfterWinIsIgnored() {
	conn := s.dial("winner")
	defer conn.Close()
	s.read(conn)

	var last GameStateMessage
	for i := 0; i < 21; i++ {
		s.send(conn, "roll")
		last = s.read(conn)
	}

	s.Equal(1, last.Game.Winner)
	s.True(last.Panel.Finished)
	s.Len(last.Game.History, 21)

	// the extra roll gets no reply, so the next message is the reset
	s.send(conn, "roll")
	s.send(conn, "reset")
	next := s.read(conn)
	s.Equal(race.New(), next.Game)
}

func (s *RaceServerTestSuite) TestStateEndpoint() {
	resp := s.get("/race/nothere/state")
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)

	conn := s.dial("snap")
	defer conn.Close()
	s.read(conn)
	s.send(conn, "roll")
	s.read(conn)

	resp = s.get("/race/snap/state")
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var snap SnapshotMessage
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&snap))
	s.Equal("snap", snap.ID)
	s.Equal(race.Playing, snap.Phase)
	s.Equal(5, snap.Game.Positions[0])
}

func (s *RaceServerTestSuite) TestResumesFromStore() {
	g := race.New().Roll(dice.NewSequence(3))
	s.Require().NoError(s.store.Save(context.Background(), "stored", g))

	conn := s.dial("stored")
	defer conn.Close()

	msg := s.read(conn)
	s.Equal(g, msg.Game)
}

func (s *RaceServerTestSuite) TestReapIdleGames() {
	hub := s.gm.getHub("idle")
	hub.mu.Lock()
	hub.lastActive = time.Now().Add(-2 * time.Hour)
	hub.mu.Unlock()

	s.gm.getHub("busy")

	s.Equal(1, s.gm.reap(time.Now().Add(-time.Hour)))

	s.gm.mu.Lock()
	_, idle := s.gm.hubs["idle"]
	_, busy := s.gm.hubs["busy"]
	s.gm.mu.Unlock()

	s.False(idle)
	s.True(busy)
}

func (s *RaceServerTestSuite) TestQRCode() {
	resp := s.get("/race/game1/qr")
	defer resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("image/png", resp.Header.Get("Content-Type"))
}

func (s *RaceServerTestSuite) TestStaticPages() {
	for path, want := range map[string]string{
		"/":                     "Start a new game",
		"/healthz":              "Ok",
		"/version":              "dicerace v" + releaseVersion,
		"/assets/race/app.css":  ".board",
		"/favicons/favicon.svg": "<svg",
	} {
		resp := s.get(path)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		s.Require().NoError(err, path)
		s.Equal(http.StatusOK, resp.StatusCode, path)
		s.Contains(string(body), want, path)
	}

	resp := s.get("/assets/missing.js")
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

// UnavailableStoreTestSuite runs the server against a Redis store whose
// server has gone away.
type UnavailableStoreTestSuite struct {
	suite.Suite
	client *redis.Client
	gm     *GameManager
	server *httptest.Server
}

func (s *UnavailableStoreTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)

	s.client = redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})

	sessions, err := store.NewRedis(context.Background(), &store.RedisConfig{
		RedisClient: s.client,
		TTL:         time.Hour,
	})
	s.Require().NoError(err)

	mr.Close()

	cfg := &Config{port: 8080, sessionTimeout: time.Hour}
	s.gm = newGameManager(cfg, sessions, dice.NewSequence(5))
	s.server = httptest.NewServer(newRouter(cfg, s.gm, make(chan error, 64)))
}

func (s *UnavailableStoreTestSuite) TearDownTest() {
	s.gm.stop()
	s.server.Close()
	s.client.Close()
}

func TestUnavailableStoreTestSuite(t *testing.T) {
	suite.Run(t, new(UnavailableStoreTestSuite))
}

func (s *UnavailableStoreTestSuite) TestNewGameIDGivesUp() {
	type result struct {
		id  string
		err error
	}

	done := make(chan result, 1)
	go func() {
		id, err := s.gm.newGameID(context.Background())
		done <- result{id, err}
	}()

	select {
	case res := <-done:
		s.Error(res.err)
		s.Empty(res.id)
	case <-time.After(10 * time.Second):
		s.FailNow("newGameID did not return")
	}
}

func (s *UnavailableStoreTestSuite) TestNewGameRouteAnswers503() {
	resp := httpGet(&s.Suite, s.server, "/race")
	defer resp.Body.Close()

	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	s.Empty(resp.Header.Get("Location"))
}

func (s *UnavailableStoreTestSuite) TestSocketStartsFreshGame() {
	conn := wsDial(&s.Suite, s.server, "offline", "", nil)
	defer conn.Close()

	first := wsRead(&s.Suite, conn)
	s.Equal(race.New(), first.Game)

	wsSend(&s.Suite, conn, "roll")
	rolled := wsRead(&s.Suite, conn)
	s.Equal(5, rolled.Game.Positions[0], "play continues while saves fail")
}
