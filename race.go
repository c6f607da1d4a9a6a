// Dice Race
//
// Four players share one device (or one game link) and take turns rolling a
// die. Each roll moves the current player along a 30-cell board; the first
// to reach the last cell wins.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - Any connection to a game may roll or reset; all see the same state
// - Every browser tab gets its own board animation, starting from whatever
//   that tab was last shown
// - Clients identified by cookie (clientID), tabs by the ?tab= query value
// - Game snapshots kept in the session store (memory or redis)
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode
// - JSON snapshot at /path/:gameid/state

package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/dicerace/games/race"
	"github.com/Seednode/dicerace/games/race/board"
	"github.com/Seednode/dicerace/games/race/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const storeTimeout = 2 * time.Second

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"` // "roll", "reset"
}

// GameStateMessage is pushed after every change, rendered for the receiving
// client.
type GameStateMessage struct {
	Type  string      `json:"type"` // "game_state"
	Game  race.State  `json:"game"`
	Board board.View  `json:"board"`
	Panel board.Panel `json:"panel"`
}

// SnapshotMessage is served by the JSON state endpoint.
type SnapshotMessage struct {
	ID    string      `json:"id"`
	Phase race.Phase  `json:"phase"`
	Game  race.State  `json:"game"`
	Panel board.Panel `json:"panel"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	clientID string
	tabID    string
}

type actionRequest struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	actions  chan actionRequest
	done     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
	state      race.State

	store    store.Store
	roller   race.Roller
	renderer *board.Renderer
}

func newHub(gameID string, state race.State, s store.Store, roller race.Roller, renderer *board.Renderer) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		actions:    make(chan actionRequest),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
		state:      state,
		store:      s,
		roller:     roller,
		renderer:   renderer,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()
			h.clients[c] = true

			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			h.sendStateLocked(ctx, c)
			cancel()

			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case req := <-h.actions:
			h.handleAction(cfg, req)
		}
	}
}

// snapshot returns the current state; safe to call from any goroutine.
func (h *Hub) snapshot() race.State {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.state
}

// renderKey identifies one browser tab of one client within this game.
func (h *Hub) renderKey(c *Client) string {
	if c.tabID == "" {
		return h.id + ":" + c.clientID
	}

	return h.id + ":" + c.clientID + ":" + c.tabID
}

func (h *Hub) stateMessageLocked(ctx context.Context, c *Client) GameStateMessage {
	return GameStateMessage{
		Type:  "game_state",
		Game:  h.state,
		Board: h.renderer.Render(ctx, h.renderKey(c), h.state),
		Panel: board.Summarize(h.state),
	}
}

// sendStateLocked assumes h.mu is already held.
func (h *Hub) sendStateLocked(ctx context.Context, c *Client) {
	select {
	case c.send <- h.stateMessageLocked(ctx, c):
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcastStateLocked sends the current game state to all clients.
func (h *Hub) broadcastStateLocked(ctx context.Context) {
	for client := range h.clients {
		h.sendStateLocked(ctx, client)
	}
}

// handleAction applies a roll or reset and pushes the result. Rolls on a
// finished game are dropped without a reply.
func (h *Hub) handleAction(cfg *Config, req actionRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	switch req.msg.Type {
	case "roll":
		if h.state.Finished() {
			return
		}

		h.state = h.state.Roll(h.roller)

		last := h.state.History[len(h.state.History)-1]
		logf(cfg, "GAMES: Player %d rolled %d and moved to %d in %s", last.Player, last.Roll, last.Position, h.id)

		if h.state.Finished() {
			logf(cfg, "GAMES: Player %d won %s after %d rolls", h.state.Winner, h.id, len(h.state.History))
		}

	case "reset":
		h.state = race.Reset()
		logf(cfg, "GAMES: Reset %s", h.id)

	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := h.store.Save(ctx, h.id, h.state); err != nil {
		log.Error().Err(err).Str("game", h.id).Msg("GAMES: Failed to save game")
	}

	h.broadcastStateLocked(ctx)
}

// closeAll disconnects all clients of this hub and stops its loop (used by
// reaper).
func (h *Hub) closeAll() {
	h.stopOnce.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const clientCookieName = "dicerace_id"

func getOrSetClientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookieName); err == nil && c.Value != "" {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func validGameID(id string) bool {
	if id == "" || len(id) > 32 {
		return false
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}

	return true
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session.
type GameManager struct {
	cfg *Config

	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration

	store    store.Store
	roller   race.Roller
	renderer *board.Renderer

	quit     chan struct{}
	stopOnce sync.Once
}

func newGameManager(cfg *Config, s store.Store, roller race.Roller) *GameManager {
	gm := &GameManager{
		cfg:         cfg,
		hubs:        make(map[string]*Hub),
		idleTimeout: cfg.sessionTimeout,
		store:       s,
		roller:      roller,
		renderer:    board.NewRenderer(s),
		quit:        make(chan struct{}),
	}
	if gm.idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

// getHub returns the running hub for gameID, starting one from the stored
// snapshot (or a fresh game) if needed.
func (gm *GameManager) getHub(gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	state, err := gm.store.Load(ctx, gameID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		state = race.New()
	case err != nil:
		log.Error().Err(err).Str("game", gameID).Msg("GAMES: Failed to load game, starting over")
		state = race.New()
	default:
		logf(gm.cfg, "GAMES: Resumed %s from store", gameID)
	}

	hub := newHub(gameID, state, gm.store, gm.roller, gm.renderer)
	gm.hubs[gameID] = hub
	go hub.run(gm.cfg)
	return hub
}

// peek reads a game without starting a hub for it.
func (gm *GameManager) peek(ctx context.Context, gameID string) (race.State, error) {
	gm.mu.Lock()
	hub, ok := gm.hubs[gameID]
	gm.mu.Unlock()

	if ok {
		return hub.snapshot(), nil
	}

	return gm.store.Load(ctx, gameID)
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with running or stored games. It gives up if the store cannot
// answer, since collisions could not be ruled out.
func (gm *GameManager) newGameID(ctx context.Context) (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate game id: %w", err)
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if exists {
			continue
		}

		loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		_, err := gm.store.Load(loadCtx, id)
		cancel()

		switch {
		case errors.Is(err, store.ErrNotFound):
			return id, nil
		case err != nil:
			return "", fmt.Errorf("check game id %s: %w", id, err)
		}
	}
}

// reap removes hubs idle since before cutoff and returns how many went.
func (gm *GameManager) reap(cutoff time.Time) int {
	removed := 0

	gm.mu.Lock()
	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			go hub.closeAll()
			removed++
			logf(gm.cfg, "GAMES: Reaped idle game %s after %s", id, last.Sub(hub.createdAt).Round(time.Second))
		}
	}
	gm.mu.Unlock()

	if sweeper, ok := gm.store.(interface{ Sweep() int }); ok {
		sweeper.Sweep()
	}

	return removed
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-gm.quit:
			return
		case <-ticker.C:
			gm.reap(time.Now().Add(-gm.idleTimeout))
		}
	}
}

// stop ends the reaper and disconnects every game.
func (gm *GameManager) stop() {
	gm.stopOnce.Do(func() {
		close(gm.quit)
	})

	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, hub := range gm.hubs {
		delete(gm.hubs, id)
		hub.closeAll()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if !validGameID(gameID) {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}

		clientID := getOrSetClientID(w, r)

		hub := gm.getHub(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("game", gameID).Msg("GAMES: Websocket upgrade failed")
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			clientID: clientID,
		}
		if tab := r.URL.Query().Get("tab"); validGameID(tab) {
			client.tabID = tab
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		logf(cfg, "GAMES: Client %s connected to %s from %s", clientID, gameID, realIP(r))

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "roll", "reset":
			select {
			case h.actions <- actionRequest{client: c, msg: msg}:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validGameID(ps.ByName("gameid")) {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}

		// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func serveState(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if !validGameID(gameID) {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}

		state, err := gm.peek(r.Context(), gameID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "game not found", http.StatusNotFound)
			return
		case err != nil:
			log.Error().Err(err).Str("game", gameID).Msg("GAMES: Failed to load game")
			http.Error(w, "failed to load game", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		err = json.NewEncoder(w).Encode(SnapshotMessage{
			ID:    gameID,
			Phase: state.Phase(),
			Game:  state,
			Panel: board.Summarize(state),
		})
		if err != nil {
			errs <- err
		}
	}
}

// ---- Static file paths ----

//go:embed race/index.html
var indexHTML string

func getIndexHandler(cfg *Config) httprouter.Handle {
	page := []byte(strings.ReplaceAll(indexHTML, "{{PREFIX}}", cfg.prefix))

	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validGameID(ps.ByName("gameid")) {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetClientID(w, r)

		_, _ = w.Write(page)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID, err := gm.newGameID(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("GAMES: Failed to create game")
			http.Error(w, "game sessions are unavailable, try again later", http.StatusServiceUnavailable)
			return
		}

		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerRaceGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
//   - $path/:gameid/state    → JSON snapshot
func registerRaceGame(cfg *Config, path string, mux *httprouter.Router, gm *GameManager, errs chan<- error) {
	// Root path → redirect to new random game
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler(cfg))

	// Per-game snapshot
	mux.GET(cfg.prefix+path+"/:gameid/state", serveState(cfg, gm, errs))
}
