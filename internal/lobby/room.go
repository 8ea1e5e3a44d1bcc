// Package lobby implements the Lobby Controller: membership, readiness, the
// waiting->starting->playing->finished lifecycle, broadcast fan-out, and
// post-game rankings. Tick-by-tick simulation is delegated to
// internal/engine; the Room type here implements engine.Room so the two
// packages don't import each other.
package lobby

import (
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"snake-arena-server/internal/constants"
	"snake-arena-server/internal/engine"
	"snake-arena-server/internal/models"
	"snake-arena-server/internal/weapons"
)

// Room is one lobby: its membership, settings, world items, and running
// game, all under one lock.
type Room struct {
	mu sync.Mutex

	ID        string
	Name      string
	MaxPlayers int
	IsPrivate bool
	Password  string
	CreatedBy string
	CreatedAt time.Time

	state    string
	settings models.GameSettings

	order   []string
	players map[string]*models.Player

	food    map[string]models.Food
	weapons map[string]models.WeaponItem

	gameStartTime time.Time

	stopTick      chan struct{}
	tickRunning   bool
	autoStartTimer *time.Timer
	resetTimer     *time.Timer
}

// NewRoom constructs an empty waiting-state lobby.
func NewRoom(id, name, creatorID string, settings models.GameSettings, maxPlayers int, isPrivate bool, password string) *Room {
	return &Room{
		ID:         id,
		Name:       name,
		MaxPlayers: maxPlayers,
		IsPrivate:  isPrivate,
		Password:   password,
		CreatedBy:  creatorID,
		CreatedAt:  time.Now(),
		state:      constants.StateWaiting,
		settings:   settings,
		players:    make(map[string]*models.Player),
		food:       make(map[string]models.Food),
		weapons:    make(map[string]models.WeaponItem),
	}
}

// --- membership -----------------------------------------------------------

// ErrFull / ErrPlaying are returned by AddPlayer for its two rejection
// conditions.
type roomError string

func (e roomError) Error() string { return string(e) }

const (
	ErrFull    = roomError("lobby is full")
	ErrPlaying = roomError("lobby is already playing")
)

// AddPlayer attaches player, resets its gameplay fields, records ownership
// if the lobby had none yet, and broadcasts player_joined to the other
// members.
func (r *Room) AddPlayer(p *models.Player) error {
	r.mu.Lock()
	if len(r.players) >= r.MaxPlayers {
		r.mu.Unlock()
		return ErrFull
	}
	if r.state == constants.StatePlaying {
		r.mu.Unlock()
		return ErrPlaying
	}
	r.players[p.ID] = p
	r.order = append(r.order, p.ID)
	if r.CreatedBy == "" {
		r.CreatedBy = p.ID
	}
	r.mu.Unlock()

	p.ResetForGame()
	p.SetLobby(r.ID)

	r.Broadcast(constants.MsgPlayerJoined, map[string]any{
		"player": p.Snapshot(),
	}, p.ID)
	return nil
}

// RemovePlayer detaches playerID. If it owned the lobby and others remain,
// ownership passes to the next player in join order. Returns whether the
// lobby is now empty.
func (r *Room) RemovePlayer(playerID string) (empty bool) {
	r.mu.Lock()
	if _, ok := r.players[playerID]; !ok {
		empty = len(r.players) == 0
		r.mu.Unlock()
		return empty
	}
	delete(r.players, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.CreatedBy == playerID && len(r.order) > 0 {
		r.CreatedBy = r.order[0]
	}
	wasPlaying := r.state == constants.StatePlaying
	aliveLeft := r.countAliveLocked()
	empty = len(r.players) == 0
	r.mu.Unlock()

	r.Broadcast(constants.MsgPlayerLeft, map[string]any{
		"playerId": playerID,
	}, "")

	if wasPlaying && aliveLeft <= 1 {
		r.EndGame()
	}
	return empty
}

func (r *Room) countAliveLocked() int {
	n := 0
	for _, id := range r.order {
		p := r.players[id]
		p.Lock()
		if p.IsAlive {
			n++
		}
		p.Unlock()
	}
	return n
}

// HasPlayer reports membership.
func (r *Room) HasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.players[playerID]
	return ok
}

// PlayerCount returns the current membership size.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// State returns the lobby's current lifecycle state.
func (r *Room) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// --- readiness and auto-start ---------------------------------------------

// SetReady flips playerID's ready flag and evaluates auto-start.
func (r *Room) SetReady(playerID string, ready bool) {
	r.mu.Lock()
	p, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Lock()
	p.IsReady = ready
	p.Unlock()

	readyCount, total := r.readyCountsLocked()
	canStart := r.canStartGameLocked()
	r.mu.Unlock()

	r.Broadcast(constants.MsgPlayerReadyChanged, map[string]any{
		"playerId":   playerID,
		"ready":      ready,
		"readyCount": readyCount,
		"total":      total,
	}, "")

	if canStart {
		r.scheduleAutoStart()
	}
}

func (r *Room) readyCountsLocked() (ready, total int) {
	for _, id := range r.order {
		total++
		p := r.players[id]
		p.Lock()
		if p.IsReady {
			ready++
		}
		p.Unlock()
	}
	return ready, total
}

// canStartGameLocked reports whether every precondition for auto-start
// currently holds. Must be called with r.mu held.
func (r *Room) canStartGameLocked() bool {
	if r.state != constants.StateWaiting {
		return false
	}
	if len(r.players) < constants.MinPlayers {
		return false
	}
	for _, p := range r.players {
		p.Lock()
		ready := p.IsReady
		p.Unlock()
		if !ready {
			return false
		}
	}
	return true
}

// scheduleAutoStart fires the start sequence AutoStartDelay after the
// transition that made canStartGame true, re-validating when the timer
// fires so a player unreadying in the meantime cancels the start.
func (r *Room) scheduleAutoStart() {
	r.mu.Lock()
	if r.autoStartTimer != nil {
		r.autoStartTimer.Stop()
	}
	r.autoStartTimer = time.AfterFunc(constants.AutoStartDelay, func() {
		r.mu.Lock()
		ok := r.canStartGameLocked()
		r.mu.Unlock()
		if ok {
			r.beginCountdown()
		}
	})
	r.mu.Unlock()
}

// --- countdown and start ---------------------------------------------------

// beginCountdown runs the waiting->starting->playing transition.
func (r *Room) beginCountdown() {
	r.mu.Lock()
	if r.state != constants.StateWaiting {
		r.mu.Unlock()
		return
	}
	r.state = constants.StateStarting
	players := make([]*models.Player, 0, len(r.order))
	for _, id := range r.order {
		players = append(players, r.players[id])
	}
	board := r.settings.BoardSize
	r.mu.Unlock()

	for _, p := range players {
		pos := randomStartCell(board)
		p.Lock()
		p.Snake = []models.Position{
			pos,
			{X: pos.X - 1, Y: pos.Y},
			{X: pos.X - 2, Y: pos.Y},
		}
		p.Dir = models.DirRight
		p.IsAlive = true
		p.Unlock()
	}

	r.mu.Lock()
	r.spawnInitialItemsLocked()
	r.mu.Unlock()

	r.Broadcast(constants.MsgGameStarting, map[string]any{"countdown": 3}, "")
	time.Sleep(1 * time.Second)
	r.Broadcast(constants.MsgCountdown, map[string]any{"count": 2}, "")
	time.Sleep(1 * time.Second)
	r.Broadcast(constants.MsgCountdown, map[string]any{"count": 1}, "")
	time.Sleep(1 * time.Second)

	r.mu.Lock()
	if r.state != constants.StateStarting {
		r.mu.Unlock()
		return
	}
	r.state = constants.StatePlaying
	r.gameStartTime = time.Now()
	r.mu.Unlock()

	r.Broadcast(constants.MsgGameStarted, nil, "")
	r.startTick()
}

// randomStartCell picks a head cell so that head and the first two body
// segments (trailing toward -X) lie within the board.
func randomStartCell(board int) models.Position {
	lo, hi := 2, board-4
	if hi < lo {
		lo, hi = 0, board-1
	}
	x := lo + rand.Intn(hi-lo+1)
	y := lo + rand.Intn(hi-lo+1)
	return models.Position{X: x, Y: y}
}

func (r *Room) spawnInitialItemsLocked() {
	for i := 0; i < constants.InitialFoodCount; i++ {
		if pos, ok := r.findFreeCellLocked(); ok {
			id := r.nextItemIDLocked()
			r.food[id] = models.NewFood(id, pos)
		}
	}
	if r.settings.WeaponsEnabled {
		for i := 0; i < constants.InitialWeaponCount; i++ {
			if pos, ok := r.findFreeCellLocked(); ok {
				id := r.nextItemIDLocked()
				r.weapons[id] = models.WeaponItem{ID: id, X: pos.X, Y: pos.Y, Type: weapons.GetRandomWeapon()}
			}
		}
	}
}

func (r *Room) findFreeCellLocked() (models.Position, bool) {
	for attempt := 0; attempt < constants.MaxSpawnAttempts; attempt++ {
		pos := models.Position{X: rand.Intn(r.settings.BoardSize), Y: rand.Intn(r.settings.BoardSize)}
		if r.cellFreeLocked(pos) {
			return pos, true
		}
	}
	return models.Position{}, false
}

func (r *Room) cellFreeLocked(pos models.Position) bool {
	for _, id := range r.order {
		p := r.players[id]
		p.Lock()
		alive := p.IsAlive
		body := p.Snake
		p.Unlock()
		if !alive {
			continue
		}
		for _, seg := range body {
			if seg == pos {
				return false
			}
		}
	}
	for _, f := range r.food {
		if f.X == pos.X && f.Y == pos.Y {
			return false
		}
	}
	for _, w := range r.weapons {
		if w.X == pos.X && w.Y == pos.Y {
			return false
		}
	}
	return true
}

func (r *Room) nextItemIDLocked() string {
	return uuid.New().String()
}

// --- tick lifecycle (delegated to internal/engine) -------------------------

func (r *Room) startTick() {
	r.mu.Lock()
	if r.tickRunning {
		r.mu.Unlock()
		return
	}
	r.tickRunning = true
	r.stopTick = make(chan struct{})
	period := r.settings.GameSpeed
	stop := r.stopTick
	r.mu.Unlock()

	go r.tickLoop(period, stop)
}

func (r *Room) tickLoop(period time.Duration, stop chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("lobby %s: tick loop panic: %v", r.ID, rec)
		}
	}()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			playing := r.state == constants.StatePlaying
			r.mu.Unlock()
			if !playing {
				return
			}
			outcome := engine.Step(r)
			r.notifyOutcome(outcome)
			if outcome.Ended {
				r.EndGame()
				return
			}
			r.Broadcast(constants.MsgGameUpdate, map[string]any{
				"gameState": r.snapshotGameState(),
			}, "")
		}
	}
}

func (r *Room) notifyOutcome(o engine.Outcome) {
	r.mu.Lock()
	byID := make(map[string]*models.Player, len(r.players))
	for id, p := range r.players {
		byID[id] = p
	}
	r.mu.Unlock()

	for _, k := range o.Kills {
		if victim, ok := byID[k.VictimID]; ok {
			models.SendJSON(victim.Sink, constants.MsgKilled, map[string]any{
				"killerId": k.KillerID,
			})
		}
		if k.KillerID != "" {
			if killer, ok := byID[k.KillerID]; ok {
				models.SendJSON(killer.Sink, constants.MsgKillAwarded, map[string]any{
					"victimId": k.VictimID,
					"score":    constants.KillScore,
				})
			}
		}
	}
	for _, wp := range o.WeaponPickups {
		if p, ok := byID[wp.PlayerID]; ok {
			models.SendJSON(p.Sink, constants.MsgWeaponAcquired, map[string]any{
				"weapon": wp.Weapon,
			})
		}
	}
}

// engine.Room implementation -------------------------------------------------

func (r *Room) PlayersInOrder() []*models.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

// Settings satisfies engine.Room.
func (r *Room) Settings() models.GameSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func (r *Room) GameStartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gameStartTime
}

func (r *Room) Food() []models.Food {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Food, 0, len(r.food))
	for _, f := range r.food {
		out = append(out, f)
	}
	return out
}

func (r *Room) RemoveFood(id string) {
	r.mu.Lock()
	delete(r.food, id)
	r.mu.Unlock()
}

func (r *Room) AddFood(f models.Food) {
	r.mu.Lock()
	r.food[f.ID] = f
	r.mu.Unlock()
}

func (r *Room) Weapons() []models.WeaponItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.WeaponItem, 0, len(r.weapons))
	for _, w := range r.weapons {
		out = append(out, w)
	}
	return out
}

func (r *Room) RemoveWeapon(id string) {
	r.mu.Lock()
	delete(r.weapons, id)
	r.mu.Unlock()
}

func (r *Room) AddWeapon(w models.WeaponItem) {
	r.mu.Lock()
	r.weapons[w.ID] = w
	r.mu.Unlock()
}

func (r *Room) NextItemID() string {
	return uuid.New().String()
}

// --- ending, rankings, reset ------------------------------------------------

// EndGame stops the tick, computes rankings, broadcasts game_ended, and
// schedules the post-game reset.
func (r *Room) EndGame() {
	r.mu.Lock()
	if r.state == constants.StateFinished {
		r.mu.Unlock()
		return
	}
	if r.tickRunning {
		close(r.stopTick)
		r.tickRunning = false
	}
	r.state = constants.StateFinished
	r.mu.Unlock()

	rankings := r.Rankings()

	var winner map[string]any
	if len(rankings) > 0 {
		r.mu.Lock()
		top := rankings[0]
		p, ok := r.players[top.ID]
		r.mu.Unlock()
		if ok {
			p.Lock()
			stillAlive := p.IsAlive
			p.GamesPlayed++
			if stillAlive {
				p.GamesWon++
				winner = map[string]any{"id": p.ID, "name": p.Name}
			}
			p.Unlock()
		}
	}
	r.mu.Lock()
	topID := ""
	if len(rankings) > 0 {
		topID = rankings[0].ID
	}
	for _, id := range r.order {
		if id == topID {
			continue // already counted above
		}
		p := r.players[id]
		p.Lock()
		p.GamesPlayed++
		p.Unlock()
	}
	r.mu.Unlock()

	r.Broadcast(constants.MsgGameEnded, map[string]any{
		"winner":    winner,
		"rankings":  rankings,
		"gameStats": map[string]any{"durationMs": time.Since(r.GameStartTime()).Milliseconds()},
	}, "")

	r.mu.Lock()
	if r.resetTimer != nil {
		r.resetTimer.Stop()
	}
	r.resetTimer = time.AfterFunc(constants.ResetDelay, r.resetLobby)
	r.mu.Unlock()
}

// Rankings orders members alive-before-dead, then by score desc, then kills
// desc.
func (r *Room) Rankings() []models.PublicInfo {
	r.mu.Lock()
	snaps := make([]models.PublicInfo, 0, len(r.order))
	for _, id := range r.order {
		snaps = append(snaps, r.players[id].Snapshot())
	}
	r.mu.Unlock()

	sort.SliceStable(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if a.IsAlive != b.IsAlive {
			return a.IsAlive
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Kills > b.Kills
	})
	return snaps
}

// resetLobby clears items and every player's gameplay state, returning the
// lobby to waiting.
func (r *Room) resetLobby() {
	r.mu.Lock()
	if r.state != constants.StateFinished {
		r.mu.Unlock()
		return
	}
	r.food = make(map[string]models.Food)
	r.weapons = make(map[string]models.WeaponItem)
	r.state = constants.StateWaiting
	players := make([]*models.Player, 0, len(r.order))
	for _, id := range r.order {
		players = append(players, r.players[id])
	}
	r.mu.Unlock()

	for _, p := range players {
		p.ResetForGame()
	}

	r.Broadcast(constants.MsgLobbyReset, nil, "")
}

// CancelTimers stops any pending auto-start/reset timers. Called when the
// lobby is swept while empty so a scheduled reset doesn't fire into a dead
// room.
func (r *Room) CancelTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.autoStartTimer != nil {
		r.autoStartTimer.Stop()
	}
	if r.resetTimer != nil {
		r.resetTimer.Stop()
	}
	if r.tickRunning {
		close(r.stopTick)
		r.tickRunning = false
	}
}

// --- input handling ----------------------------------------------------------

// HandleDirection applies a direction update from playerID.
func (r *Room) HandleDirection(playerID string, d models.Direction) {
	r.mu.Lock()
	p, ok := r.players[playerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	p.SetDirection(d)
}

// HandleUseWeapon activates playerID's currently held weapon, if any.
func (r *Room) HandleUseWeapon(playerID string) {
	r.mu.Lock()
	p, ok := r.players[playerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	p.Lock()
	typ := p.Weapon
	p.Unlock()
	if typ == "" {
		return
	}
	weapons.Apply(p, typ,
		func(center models.Position, count int) {
			for _, pos := range weapons.FoodBombRing(center, count) {
				r.mu.Lock()
				if r.cellFreeLocked(pos) {
					id := r.nextItemIDLocked()
					r.food[id] = models.NewFood(id, pos)
				}
				r.mu.Unlock()
			}
		},
		func() (models.Position, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.findFreeCellLocked()
		},
	)
}

// --- broadcast and settings --------------------------------------------------

// Broadcast serializes one message and sends it to every member except
// excludeID. Send failures are logged and do not abort delivery to the
// remaining members.
func (r *Room) Broadcast(msgType string, fields map[string]any, excludeID string) {
	r.mu.Lock()
	targets := make([]*models.Player, 0, len(r.order))
	for _, id := range r.order {
		if id == excludeID {
			continue
		}
		targets = append(targets, r.players[id])
	}
	r.mu.Unlock()

	for _, p := range targets {
		if err := models.SendJSON(p.Sink, msgType, fields); err != nil {
			log.Printf("lobby %s: send to %s failed: %v", r.ID, p.ID, err)
		}
	}
}

func (r *Room) snapshotGameState() map[string]any {
	r.mu.Lock()
	board := r.settings.BoardSize
	gameStart := r.gameStartTime
	ids := append([]string(nil), r.order...)
	foodList := make([]models.Food, 0, len(r.food))
	for _, f := range r.food {
		foodList = append(foodList, f)
	}
	weaponList := make([]models.WeaponItem, 0, len(r.weapons))
	for _, w := range r.weapons {
		weaponList = append(weaponList, w)
	}
	players := make([]*models.Player, 0, len(ids))
	for _, id := range ids {
		players = append(players, r.players[id])
	}
	r.mu.Unlock()

	playerStates := make([]map[string]any, 0, len(players))
	for _, p := range players {
		body, dir := p.SnakeSnapshot()
		playerStates = append(playerStates, map[string]any{
			"publicInfo": p.Snapshot(),
			"snake":      body,
			"direction":  dir,
		})
	}

	return map[string]any{
		"players":   playerStates,
		"food":      foodList,
		"weapons":   weaponList,
		"gameTime":  time.Since(gameStart).Milliseconds(),
		"boardSize": board,
	}
}

// UpdateSettings merges raw into the lobby's current settings, applying only
// the fields actually present. Only valid while waiting and only for the
// creator, enforced by the caller.
func (r *Room) UpdateSettings(raw map[string]any) models.GameSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := raw["boardSize"].(float64); ok {
		r.settings.BoardSize = clamp(int(v), constants.MinBoardSize, constants.MaxBoardSize)
	}
	if v, ok := raw["gameSpeed"].(float64); ok {
		ms := time.Duration(v) * time.Millisecond
		r.settings.GameSpeed = clampDuration(ms, constants.MinGameSpeed, constants.MaxGameSpeed)
	}
	if v, ok := raw["weaponsEnabled"].(bool); ok {
		r.settings.WeaponsEnabled = v
	}
	if v, ok := raw["maxGameTime"].(float64); ok {
		r.settings.MaxGameTime = time.Duration(v) * time.Millisecond
	}
	if v, ok := raw["winCondition"].(string); ok {
		r.settings.WinCondition = v
	}
	return r.settings
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

// PublicListing is the shape returned by get_lobbies: public, waiting
// lobbies only.
type PublicListing struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	State      string `json:"state"`
}

// Creator returns the id of the lobby's current owner.
func (r *Room) Creator() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CreatedBy
}

// Listing returns this lobby's public listing row, or ok=false if it should
// be excluded (private, or not waiting).
func (r *Room) Listing() (PublicListing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.IsPrivate || r.state != constants.StateWaiting {
		return PublicListing{}, false
	}
	return PublicListing{
		ID:         r.ID,
		Name:       r.Name,
		Players:    len(r.players),
		MaxPlayers: r.MaxPlayers,
		State:      r.state,
	}, true
}

// CheckPassword reports whether pw matches a private lobby's password.
func (r *Room) CheckPassword(pw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.IsPrivate {
		return true
	}
	return r.Password == pw
}
