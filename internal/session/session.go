// Package session is the Connection & Session Manager: it owns the
// process-wide player and lobby registries, routes every inbound command to
// the right handler, and reaps idle sessions. It is an explicit struct
// constructed at startup and injected into the transport layer, not an
// ambient global.
package session

import (
	"encoding/json"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"snake-arena-server/internal/constants"
	"snake-arena-server/internal/lobby"
	"snake-arena-server/internal/models"
)

// Manager owns every session and lobby for the process lifetime. All
// mutations to the registries go through its mutex; per-lobby state is then
// serialized internally by that lobby's own mutex.
type Manager struct {
	mu       sync.Mutex
	players  map[string]*models.Player
	lobbies  map[string]*lobby.Room
	startedAt time.Time

	defaultBoardSize  int
	defaultGameSpeed  time.Duration
	defaultMaxPlayers int

	idleTimeout   time.Duration
	sweepInterval time.Duration

	stopSweep chan struct{}
}

// Options configures defaults a Manager applies to lobbies created without
// explicit settings.
type Options struct {
	DefaultBoardSize  int
	DefaultGameSpeed  time.Duration
	DefaultMaxPlayers int
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
}

// NewManager constructs an empty Manager and starts its idle sweep loop.
func NewManager(opts Options) *Manager {
	m := &Manager{
		players:           make(map[string]*models.Player),
		lobbies:           make(map[string]*lobby.Room),
		startedAt:         time.Now(),
		defaultBoardSize:  opts.DefaultBoardSize,
		defaultGameSpeed:  opts.DefaultGameSpeed,
		defaultMaxPlayers: opts.DefaultMaxPlayers,
		idleTimeout:       opts.IdleTimeout,
		sweepInterval:     opts.SweepInterval,
		stopSweep:         make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Connect registers a brand-new session backed by sink and returns its
// generated player id.
func (m *Manager) Connect(sink models.Sink) string {
	id := uuid.New().String()
	color := models.Palette[rand.Intn(len(models.Palette))]
	player := models.NewPlayer(id, defaultName(id), color, sink)

	m.mu.Lock()
	m.players[id] = player
	m.mu.Unlock()

	models.SendJSON(sink, constants.MsgWelcome, map[string]any{
		"playerId": id,
	})
	models.SendJSON(sink, constants.MsgPlayerInfo, map[string]any{
		"player": player.Snapshot(),
	})
	return id
}

func defaultName(id string) string {
	if len(id) >= 6 {
		return "Player-" + id[:6]
	}
	return "Player-" + id
}

// Disconnect tears a session down: removes it from its lobby if any, then
// from the registry.
func (m *Manager) Disconnect(playerID string) {
	m.leaveCurrentLobby(playerID)

	m.mu.Lock()
	delete(m.players, playerID)
	m.mu.Unlock()
}

// HandleMessage parses one inbound frame and dispatches it. Every inbound
// message bumps lastActivity first, even malformed ones whose type cannot
// be read.
func (m *Manager) HandleMessage(playerID string, raw []byte) {
	m.mu.Lock()
	player, ok := m.players[playerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	player.Touch()

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{
			"message": "Invalid message format",
		})
		return
	}

	var data map[string]any
	if len(msg.Data) > 0 {
		json.Unmarshal(msg.Data, &data)
	}
	if data == nil {
		data = map[string]any{}
	}

	switch msg.Type {
	case constants.MsgConnectPlayer:
		m.handleConnectPlayer(player, data)
	case constants.MsgUpdatePlayerName:
		m.handleUpdateName(player, data)
	case constants.MsgCreateLobby:
		m.handleCreateLobby(player, data)
	case constants.MsgJoinLobby:
		m.handleJoinLobby(player, data)
	case constants.MsgLeaveLobby:
		m.handleLeaveLobby(player)
	case constants.MsgSetReady:
		m.handleSetReady(player, data)
	case constants.MsgPlayerInput:
		m.handlePlayerInput(player, data)
	case constants.MsgChatMessage:
		m.handleChatMessage(player, data)
	case constants.MsgGetLobbies:
		m.handleGetLobbies(player)
	case constants.MsgGetPlayerStats:
		m.handleGetPlayerStats(player)
	case constants.MsgUpdateLobbySettings:
		m.handleUpdateLobbySettings(player, data)
	default:
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{
			"message": "Unknown message type: " + msg.Type,
		})
	}
}

func (m *Manager) handleConnectPlayer(player *models.Player, data map[string]any) {
	if name, ok := data["name"].(string); ok && name != "" {
		player.SetName(name)
	}
	models.SendJSON(player.Sink, constants.MsgConnectionConfirmed, map[string]any{
		"player": player.Snapshot(),
	})
}

func (m *Manager) handleUpdateName(player *models.Player, data map[string]any) {
	name, ok := data["name"].(string)
	if !ok || !player.SetName(name) {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{
			"message": "Invalid name",
		})
		return
	}
	models.SendJSON(player.Sink, constants.MsgNameUpdated, map[string]any{
		"name": name,
	})
	if room := m.roomOf(player.ID); room != nil {
		room.Broadcast(constants.MsgPlayerNameChanged, map[string]any{
			"playerId": player.ID,
			"name":     name,
		}, player.ID)
	}
}

func (m *Manager) handleCreateLobby(player *models.Player, data map[string]any) {
	if player.CurrentLobby() != "" {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{
			"message": "Already in a lobby",
		})
		return
	}

	name, _ := data["name"].(string)
	if name == "" {
		name = player.Name + "'s Lobby"
	}
	maxPlayers := m.defaultMaxPlayers
	if v, ok := data["maxPlayers"].(float64); ok {
		maxPlayers = clamp(int(v), constants.MinPlayers, constants.MaxPlayers)
	}
	isPrivate, _ := data["isPrivate"].(bool)
	password, _ := data["password"].(string)

	settings := models.GameSettings{
		BoardSize:      m.defaultBoardSize,
		GameSpeed:      m.defaultGameSpeed,
		WeaponsEnabled: true,
		MaxGameTime:    constants.DefaultMaxGameTime,
		WinCondition:   constants.WinLastStanding,
	}
	if raw, ok := data["gameSettings"].(map[string]any); ok {
		applySettingsPatch(&settings, raw)
	}

	id := uuid.New().String()
	room := lobby.NewRoom(id, name, player.ID, settings, maxPlayers, isPrivate, password)

	m.mu.Lock()
	m.lobbies[id] = room
	m.mu.Unlock()

	if err := room.AddPlayer(player); err != nil {
		m.mu.Lock()
		delete(m.lobbies, id)
		m.mu.Unlock()
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": err.Error()})
		return
	}

	models.SendJSON(player.Sink, constants.MsgLobbyCreated, map[string]any{
		"lobbyId": id,
		"name":    name,
	})
}

func applySettingsPatch(settings *models.GameSettings, raw map[string]any) {
	if v, ok := raw["boardSize"].(float64); ok {
		settings.BoardSize = clamp(int(v), constants.MinBoardSize, constants.MaxBoardSize)
	}
	if v, ok := raw["gameSpeed"].(float64); ok {
		ms := time.Duration(v) * time.Millisecond
		settings.GameSpeed = clampDuration(ms, constants.MinGameSpeed, constants.MaxGameSpeed)
	}
	if v, ok := raw["weaponsEnabled"].(bool); ok {
		settings.WeaponsEnabled = v
	}
	if v, ok := raw["maxGameTime"].(float64); ok {
		settings.MaxGameTime = time.Duration(v) * time.Millisecond
	}
	if v, ok := raw["winCondition"].(string); ok {
		settings.WinCondition = v
	}
}

func (m *Manager) handleJoinLobby(player *models.Player, data map[string]any) {
	if player.CurrentLobby() != "" {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Already in a lobby"})
		return
	}
	lobbyID, ok := data["lobbyId"].(string)
	if !ok {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "lobbyId is required"})
		return
	}
	m.mu.Lock()
	room, found := m.lobbies[lobbyID]
	m.mu.Unlock()
	if !found {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Lobby not found"})
		return
	}
	password, _ := data["password"].(string)
	if !room.CheckPassword(password) {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Incorrect password"})
		return
	}
	if err := room.AddPlayer(player); err != nil {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": err.Error()})
		return
	}
	models.SendJSON(player.Sink, constants.MsgLobbyJoined, map[string]any{
		"lobbyId": lobbyID,
	})
}

func (m *Manager) handleLeaveLobby(player *models.Player) {
	if player.CurrentLobby() == "" {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Not in a lobby"})
		return
	}
	m.leaveCurrentLobby(player.ID)
	models.SendJSON(player.Sink, constants.MsgLobbyLeft, nil)
}

// leaveCurrentLobby detaches playerID from its lobby, if any, and sweeps the
// lobby away if it's now empty.
func (m *Manager) leaveCurrentLobby(playerID string) {
	m.mu.Lock()
	player, ok := m.players[playerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	lobbyID := player.CurrentLobby()
	m.mu.Unlock()
	if lobbyID == "" {
		return
	}

	m.mu.Lock()
	room, found := m.lobbies[lobbyID]
	m.mu.Unlock()
	if !found {
		return
	}

	player.SetLobby("")

	empty := room.RemovePlayer(playerID)
	if empty {
		room.CancelTimers()
		m.mu.Lock()
		delete(m.lobbies, lobbyID)
		m.mu.Unlock()
	}
}

func (m *Manager) handleSetReady(player *models.Player, data map[string]any) {
	room := m.roomOf(player.ID)
	if room == nil {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Not in a lobby"})
		return
	}
	ready, _ := data["ready"].(bool)
	room.SetReady(player.ID, ready)
}

func (m *Manager) handlePlayerInput(player *models.Player, data map[string]any) {
	room := m.roomOf(player.ID)
	if room == nil {
		return
	}
	player.Lock()
	alive := player.IsAlive
	player.Unlock()
	if !alive {
		return
	}

	inputType, _ := data["type"].(string)
	switch inputType {
	case constants.InputDirection:
		dir, ok := data["direction"].(map[string]any)
		if !ok {
			return
		}
		x, _ := dir["x"].(float64)
		y, _ := dir["y"].(float64)
		room.HandleDirection(player.ID, models.Direction{X: int(x), Y: int(y)})
	case constants.InputUseWeapon:
		room.HandleUseWeapon(player.ID)
	}
}

func (m *Manager) handleChatMessage(player *models.Player, data map[string]any) {
	room := m.roomOf(player.ID)
	if room == nil {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Not in a lobby"})
		return
	}
	message, _ := data["message"].(string)
	room.Broadcast(constants.MsgChatMessageOut, map[string]any{
		"playerId": player.ID,
		"name":     player.Name,
		"message":  message,
	}, "")
}

func (m *Manager) handleGetLobbies(player *models.Player) {
	m.mu.Lock()
	rooms := make([]*lobby.Room, 0, len(m.lobbies))
	for _, r := range m.lobbies {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	listings := make([]lobby.PublicListing, 0, len(rooms))
	for _, r := range rooms {
		if l, ok := r.Listing(); ok {
			listings = append(listings, l)
		}
	}
	models.SendJSON(player.Sink, constants.MsgLobbiesList, map[string]any{
		"lobbies": listings,
	})
}

func (m *Manager) handleGetPlayerStats(player *models.Player) {
	models.SendJSON(player.Sink, constants.MsgPlayerStats, map[string]any{
		"player":     player.Snapshot(),
		"serverStats": m.Stats(),
	})
}

func (m *Manager) handleUpdateLobbySettings(player *models.Player, data map[string]any) {
	room := m.roomOf(player.ID)
	if room == nil {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Not in a lobby"})
		return
	}
	if room.Creator() != player.ID {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Only the lobby creator can change settings"})
		return
	}
	if room.State() != constants.StateWaiting {
		models.SendJSON(player.Sink, constants.MsgError, map[string]any{"message": "Settings can only be changed while waiting"})
		return
	}
	raw, ok := data["settings"].(map[string]any)
	if !ok {
		return
	}
	updated := room.UpdateSettings(raw)
	room.Broadcast(constants.MsgLobbySettingsUpdated, map[string]any{
		"settings": updated,
	}, "")
}

func (m *Manager) roomOf(playerID string) *lobby.Room {
	m.mu.Lock()
	player, ok := m.players[playerID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	lobbyID := player.CurrentLobby()
	m.mu.Unlock()
	if lobbyID == "" {
		return nil
	}
	m.mu.Lock()
	room := m.lobbies[lobbyID]
	m.mu.Unlock()
	return room
}

// Stats returns the read-only server stats payload.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	totalPlayers := len(m.players)
	totalLobbies := len(m.lobbies)
	active := 0
	for _, r := range m.lobbies {
		switch r.State() {
		case constants.StateStarting, constants.StatePlaying:
			active++
		}
	}
	m.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]any{
		"totalPlayers": totalPlayers,
		"totalLobbies": totalLobbies,
		"activeGames":  active,
		"uptime":       time.Since(m.startedAt).Seconds(),
		"memoryUsage":  memStats.Alloc,
	}
}

// sweepLoop runs the idle session sweep every m.sweepInterval.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	m.mu.Lock()
	stale := make([]*models.Player, 0)
	for _, p := range m.players {
		if p.IdleSince() >= m.idleTimeout {
			stale = append(stale, p)
		}
	}
	m.mu.Unlock()

	for _, p := range stale {
		log.Printf("session: evicting idle player %s", p.ID)
		m.Disconnect(p.ID)
		if closer, ok := p.Sink.(interface{ CloseWithReason(int, string) }); ok {
			closer.CloseWithReason(1000, constants.CloseReasonInactive)
		}
	}
}

// Shutdown broadcasts server_shutdown to every session and stops the sweep
// loop and every lobby's tick.
func (m *Manager) Shutdown() {
	close(m.stopSweep)

	m.mu.Lock()
	players := make([]*models.Player, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	rooms := make([]*lobby.Room, 0, len(m.lobbies))
	for _, r := range m.lobbies {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, p := range players {
		models.SendJSON(p.Sink, constants.MsgServerShutdown, nil)
	}
	for _, r := range rooms {
		r.CancelTimers()
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
