// GuessWord Party Game
//
// Each player locks in a secret question (a word or category) during the
// preparing phase. Players then take turns proposing answers; everyone
// else votes on whether the proposed answer is acceptable. A majority
// accept scores the guesser a point and passes the turn.
//
// Features:
// - WebSockets per game ID: /guessword/:gameid and /guessword/:gameid/ws
// - Players identified by server-assigned 16-bit ids, reused lowest-first
// - Joining is only open while the session is waiting for players
// - Start requests arm a cancellable countdown (joins also cancel it)
// - Votes may be changed until the last eligible ballot lands
// - The active guesser cannot vote on their own answer
// - Guessers may skip a turn or give up and reveal their question
// - Hidden chat is withheld from the active guesser
// - Bounded per-session event log, replayed to newly connected clients
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type   string `json:"type"`             // "join", "leave", "start_game", "cancel_start", "question", "guess", "skip", "give_up", "vote", "chat", "reset"
	Name   string `json:"name,omitempty"`   // join
	Text   string `json:"text,omitempty"`   // question / guess / chat
	Accept *bool  `json:"accept,omitempty"` // vote
	Hidden bool   `json:"hidden,omitempty"` // chat
}

// SessionInfoMessage is sent immediately on connect so the client knows
// its assigned id and the current phase.
type SessionInfoMessage struct {
	Type  string `json:"type"` // "session_info"
	ID    uint16 `json:"id"`
	Phase string `json:"phase"`
}

// ParticipantState is one participant's public state within a game_state
// broadcast.
type ParticipantState struct {
	ID           uint16   `json:"id"`
	Name         string   `json:"name"`
	HasQuestion  bool     `json:"has_question"`
	SuccessCount int      `json:"success_count"`
	Guesses      []string `json:"guesses,omitempty"`
	Skips        int      `json:"skips,omitempty"`
	Forfeited    bool     `json:"forfeited,omitempty"`
}

// GameStateMessage broadcasts the authoritative session state.
type GameStateMessage struct {
	Type          string             `json:"type"` // "game_state"
	Phase         string             `json:"phase"`
	Countdown     bool               `json:"countdown"`
	TurnOrder     []uint16           `json:"turn_order,omitempty"`
	ActiveGuesser uint16             `json:"active_guesser,omitempty"` // id 0 is never allocated
	PendingAnswer string             `json:"pending_answer,omitempty"`
	BallotsCast   int                `json:"ballots_cast"`
	Participants  []ParticipantState `json:"participants"`
}

// EventLogMessage replays the bounded session log, oldest first.
type EventLogMessage struct {
	Type    string   `json:"type"` // "event_log"
	Entries []string `json:"entries"`
}

// EventMessage carries a single new event log entry.
type EventMessage struct {
	Type string `json:"type"` // "event"
	Text string `json:"text"`
}

type ChatMessage struct {
	Type   string `json:"type"` // "chat"
	From   string `json:"from"`
	Text   string `json:"text"`
	Hidden bool   `json:"hidden,omitempty"`
}

type CountdownMessage struct {
	Type    string `json:"type"` // "countdown"
	Active  bool   `json:"active"`
	Seconds int    `json:"seconds,omitempty"`
}

type TurnMessage struct {
	Type string `json:"type"` // "turn"
	ID   uint16 `json:"id"`
	Name string `json:"name"`
}

// SimpleMessage is for generic notifications ("rejected", "phase", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
	uid  uint16
}

type inboundEvent struct {
	client *Client
	msg    ClientMessage
}

// Hub owns one game session. All session mutation happens on the run
// goroutine, which consumes events one at a time from a single queue.
type Hub struct {
	id      string
	session *Session
	clients map[*Client]bool
	uids    uidPool

	register chan *Client
	unreg    chan *Client
	inbox    chan inboundEvent
	expiry   chan struct{}

	countdown *time.Timer

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

func newHub(cfg *Config, gameID string) *Hub {
	now := time.Now()
	h := &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		inbox:      make(chan inboundEvent, 64),
		expiry:     make(chan struct{}, 1),
		createdAt:  now,
		lastActive: now,
	}

	h.session = newSession(SessionOptions{
		MinPlayers:     cfg.minPlayers,
		RejectAdvances: cfg.rejectAdvances,
		Countdown:      cfg.countdown,
	}, Notifier{
		PhaseChanged:     h.phaseChangedLocked,
		EventAppended:    h.eventAppendedLocked,
		TurnAdvanced:     h.turnAdvancedLocked,
		CountdownChanged: h.countdownChangedLocked,
	})

	return h
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			uid, ok := h.uids.acquire()
			if !ok {
				h.mu.Unlock()
				close(c.send)
				_ = c.conn.Close()
				continue
			}
			c.uid = uid
			h.clients[c] = true

			// Send session_info first, so the client knows its id before
			// any state arrives.
			c.send <- SessionInfoMessage{
				Type:  "session_info",
				ID:    uid,
				Phase: h.session.Phase().String(),
			}
			c.send <- EventLogMessage{
				Type:    "event_log",
				Entries: h.session.Events(),
			}
			c.send <- h.gameStateLocked()

			h.mu.Unlock()

			logf(cfg, "GAMES: Client %d connected to %s", uid, h.id)

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.session.Leave(c.uid)
			h.uids.release(c.uid)
			h.broadcastGameStateLocked()

			h.mu.Unlock()

			logf(cfg, "GAMES: Client %d disconnected from %s", c.uid, h.id)

		case ev := <-h.inbox:
			h.handleEvent(cfg, ev)

		case <-h.expiry:
			h.mu.Lock()
			h.lastActive = time.Now()
			h.session.CountdownElapsed()
			h.broadcastGameStateLocked()
			h.mu.Unlock()
		}
	}
}

// handleEvent applies one inbound client event to the session and
// broadcasts the resulting state. Rejected events have no side effect
// beyond an error notice to the sender.
func (h *Hub) handleEvent(cfg *Config, ev inboundEvent) {
	c := ev.client
	msg := ev.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	var err error

	switch msg.Type {
	case "join":
		name := strings.TrimSpace(msg.Name)
		if name == "" {
			return
		}
		err = h.session.Join(c.uid, name)
	case "leave":
		h.session.Leave(c.uid)
	case "start_game":
		err = h.session.StartGame()
	case "cancel_start":
		err = h.session.CancelStart()
	case "question":
		err = h.session.SubmitQuestion(c.uid, msg.Text)
	case "guess":
		err = h.session.SubmitGuess(c.uid, msg.Text)
	case "skip":
		err = h.session.SkipTurn(c.uid)
	case "give_up":
		err = h.session.Forfeit(c.uid)
	case "vote":
		if msg.Accept == nil {
			return
		}
		err = h.session.CastVote(c.uid, *msg.Accept)
	case "chat":
		h.handleChatLocked(c, msg)
		return
	case "reset":
		h.session.ResetGame()
	default:
		// ignore unknown types
		return
	}

	if err != nil {
		logf(cfg, "GAMES: Rejected %q from %d in %s: %v", msg.Type, c.uid, h.id, err)

		select {
		case c.send <- SimpleMessage{
			Type:    "rejected",
			Message: err.Error(),
		}:
		default:
		}
		return
	}

	h.broadcastGameStateLocked()
}

// handleChatLocked fans a chat line out to clients. Hidden chat is
// withheld from the active guesser so they cannot read hints meant for
// the rest of the table.
func (h *Hub) handleChatLocked(c *Client, msg ClientMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	name, err := h.session.Chat(c.uid)
	if err != nil {
		return
	}

	var exclude uint16
	hasExclude := false
	if msg.Hidden {
		exclude, hasExclude = h.session.ActiveGuesser()
	}

	out := ChatMessage{
		Type:   "chat",
		From:   name,
		Text:   text,
		Hidden: msg.Hidden,
	}

	for client := range h.clients {
		if hasExclude && client.uid == exclude {
			continue
		}
		select {
		case client.send <- out:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// broadcastLocked assumes h.mu is already held.
func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) gameStateLocked() GameStateMessage {
	s := h.session

	msg := GameStateMessage{
		Type:          "game_state",
		Phase:         s.Phase().String(),
		Countdown:     s.CountdownActive(),
		TurnOrder:     s.TurnOrder(),
		PendingAnswer: s.PendingAnswer(),
		BallotsCast:   len(s.Ballots()),
	}

	if id, ok := s.ActiveGuesser(); ok {
		msg.ActiveGuesser = id
	}

	for _, id := range s.IDs() {
		name, _ := s.Lookup(id)
		ps := ParticipantState{
			ID:   id,
			Name: name,
		}
		if rec, ok := s.Record(id); ok {
			ps.HasQuestion = rec.PendingQuestion != ""
			ps.SuccessCount = rec.SuccessCount
			ps.Guesses = rec.GuessHistory
			ps.Skips = rec.Skips
			ps.Forfeited = rec.Forfeited
		}
		msg.Participants = append(msg.Participants, ps)
	}

	return msg
}

func (h *Hub) broadcastGameStateLocked() {
	h.broadcastLocked(h.gameStateLocked())
}

// Session notification callbacks. These fire while the run goroutine holds
// h.mu, hence the Locked suffix.

func (h *Hub) phaseChangedLocked(p Phase) {
	h.broadcastLocked(SimpleMessage{
		Type:    "phase",
		Message: p.String(),
	})
}

func (h *Hub) eventAppendedLocked(text string) {
	h.broadcastLocked(EventMessage{
		Type: "event",
		Text: text,
	})
}

func (h *Hub) turnAdvancedLocked(id uint16) {
	h.broadcastLocked(TurnMessage{
		Type: "turn",
		ID:   id,
		Name: h.session.displayName(id),
	})
}

func (h *Hub) countdownChangedLocked(active bool) {
	if active {
		if h.countdown == nil {
			h.countdown = time.AfterFunc(h.session.opts.Countdown, func() {
				select {
				case h.expiry <- struct{}{}:
				default:
				}
			})
		}
		h.broadcastLocked(CountdownMessage{
			Type:    "countdown",
			Active:  true,
			Seconds: int(h.session.opts.Countdown / time.Second),
		})
		return
	}

	if h.countdown != nil {
		h.countdown.Stop()
		h.countdown = nil
	}
	h.broadcastLocked(CountdownMessage{
		Type:   "countdown",
		Active: false,
	})
}

// closeAll tears the session down and disconnects all clients of this hub
// (used by the reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.countdown != nil {
		h.countdown.Stop()
		h.countdown = nil
	}

	h.session.ResetSession()

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

// GameManager holds a set of hubs keyed by game ID, so each
// /guessword/:gameid is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(cfg, gameID)
	gm.hubs[gameID] = hub
	hub.session.Connect()
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.inbox <- inboundEvent{
			client: c,
			msg:    msg,
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
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
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
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed guessword/index.html
var indexHTML []byte

//go:embed guessword/app.css
var guesswordCSS []byte

//go:embed guessword/app.js
var guesswordJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(guesswordCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(guesswordJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerGuessWordGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerGuessWordGame(cfg *Config, path string, mux *httprouter.Router) {
	gm := newGameManager(cfg.sessionTimeout)

	// Root path → redirect to new random game
	mux.GET(path, redirectNewGame(cfg, path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/guessword/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/guessword/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
