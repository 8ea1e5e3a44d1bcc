package engine

import (
	"testing"
	"time"

	"snake-arena-server/internal/models"
)

// fakeSink discards every frame; the engine tests care about player state,
// not wire output.
type fakeSink struct{}

func (fakeSink) Send([]byte) error { return nil }

// fakeRoom is a minimal engine.Room backed by plain fields.
type fakeRoom struct {
	players   []*models.Player
	settings  models.GameSettings
	startTime time.Time
	food      map[string]models.Food
	weapons   map[string]models.WeaponItem
	seq       int
}

func newFakeRoom(board int) *fakeRoom {
	return &fakeRoom{
		settings: models.GameSettings{
			BoardSize:    board,
			GameSpeed:    150 * time.Millisecond,
			MaxGameTime:  5 * time.Minute,
			WinCondition: "last_standing",
		},
		startTime: time.Now(),
		food:      make(map[string]models.Food),
		weapons:   make(map[string]models.WeaponItem),
	}
}

func (r *fakeRoom) PlayersInOrder() []*models.Player  { return r.players }
func (r *fakeRoom) Settings() models.GameSettings      { return r.settings }
func (r *fakeRoom) GameStartTime() time.Time           { return r.startTime }

func (r *fakeRoom) Food() []models.Food {
	out := make([]models.Food, 0, len(r.food))
	for _, f := range r.food {
		out = append(out, f)
	}
	return out
}
func (r *fakeRoom) RemoveFood(id string)    { delete(r.food, id) }
func (r *fakeRoom) AddFood(f models.Food)   { r.food[f.ID] = f }

func (r *fakeRoom) Weapons() []models.WeaponItem {
	out := make([]models.WeaponItem, 0, len(r.weapons))
	for _, w := range r.weapons {
		out = append(out, w)
	}
	return out
}
func (r *fakeRoom) RemoveWeapon(id string)        { delete(r.weapons, id) }
func (r *fakeRoom) AddWeapon(w models.WeaponItem) { r.weapons[w.ID] = w }

func (r *fakeRoom) NextItemID() string {
	r.seq++
	return "item-" + string(rune('a'+r.seq))
}

func newTestPlayer(id string, head models.Position, dir models.Direction) *models.Player {
	p := models.NewPlayer(id, id, "#fff", fakeSink{})
	p.Snake = []models.Position{head, {X: head.X - 1, Y: head.Y}, {X: head.X - 2, Y: head.Y}}
	p.Dir = dir
	p.IsAlive = true
	return p
}

func TestStepWallDeathKillsWithNoCredit(t *testing.T) {
	room := newFakeRoom(20)
	a := newTestPlayer("a", models.Position{X: 19, Y: 5}, models.DirRight)
	room.players = []*models.Player{a}

	outcome := Step(room)

	if a.IsAlive {
		t.Fatalf("expected a to be dead after hitting the wall")
	}
	if len(outcome.Kills) != 1 || outcome.Kills[0].KillerID != "" {
		t.Fatalf("expected one no-credit kill, got %+v", outcome.Kills)
	}
	if a.Deaths != 1 {
		t.Fatalf("expected deaths=1, got %d", a.Deaths)
	}
}

func TestStepSelfCollisionKills(t *testing.T) {
	room := newFakeRoom(20)
	a := newTestPlayer("a", models.Position{X: 5, Y: 5}, models.DirRight)
	// Bend the snake back on itself so the next head lands on its own body.
	a.Snake = []models.Position{
		{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 5},
	}
	a.Dir = models.DirRight
	room.players = []*models.Player{a}

	Step(room)

	if a.IsAlive {
		t.Fatalf("expected self-collision to kill the player")
	}
}

func TestStepFoodGrowthIncreasesScoreAndLength(t *testing.T) {
	room := newFakeRoom(20)
	a := newTestPlayer("a", models.Position{X: 5, Y: 5}, models.DirRight)
	startLen := len(a.Snake)
	room.players = []*models.Player{a}
	room.food["f1"] = models.NewFood("f1", models.Position{X: 6, Y: 5})

	Step(room)

	if a.Score != 10 {
		t.Fatalf("expected score 10, got %d", a.Score)
	}
	if len(a.Snake) != startLen+1 {
		t.Fatalf("expected snake to grow by one segment, got %d -> %d", startLen, len(a.Snake))
	}
	if _, stillThere := room.food["f1"]; stillThere {
		t.Fatalf("expected food to be consumed")
	}
}

func TestStepOtherPlayerCollisionAwardsKill(t *testing.T) {
	room := newFakeRoom(20)
	a := newTestPlayer("a", models.Position{X: 5, Y: 5}, models.DirRight) // head -> (6,5)
	b := newTestPlayer("b", models.Position{X: 8, Y: 5}, models.DirUp)
	// b's body (not its head) occupies (6,5), so a's new head lands on a
	// body segment of b rather than meeting b's new head.
	b.Snake = []models.Position{{X: 8, Y: 5}, {X: 7, Y: 5}, {X: 6, Y: 5}, {X: 5, Y: 6}}
	room.players = []*models.Player{a, b}

	Step(room)

	if a.IsAlive {
		t.Fatalf("expected a to die hitting b's body")
	}
	if b.Kills != 1 || b.Score != 50 {
		t.Fatalf("expected b credited with a kill, got kills=%d score=%d", b.Kills, b.Score)
	}
}

func TestStepHeadOnHeadKillsBothWithNoCredit(t *testing.T) {
	room := newFakeRoom(20)
	a := newTestPlayer("a", models.Position{X: 5, Y: 5}, models.DirRight)  // -> (6,5)
	b := newTestPlayer("b", models.Position{X: 7, Y: 5}, models.DirLeft)   // -> (6,5)
	room.players = []*models.Player{a, b}

	Step(room)

	if a.IsAlive || b.IsAlive {
		t.Fatalf("expected both players dead after head-on-head collision")
	}
	if a.Kills != 0 || b.Kills != 0 {
		t.Fatalf("expected no kill credit on head-on-head, got a.kills=%d b.kills=%d", a.Kills, b.Kills)
	}
}

func TestStepLastStandingEndsGame(t *testing.T) {
	room := newFakeRoom(20)
	a := newTestPlayer("a", models.Position{X: 19, Y: 5}, models.DirRight) // dies on wall
	b := newTestPlayer("b", models.Position{X: 2, Y: 2}, models.DirRight)
	room.players = []*models.Player{a, b}

	outcome := Step(room)

	if !outcome.Ended {
		t.Fatalf("expected game to end with one survivor")
	}
	if outcome.WinnerID != "b" {
		t.Fatalf("expected b to be declared winner, got %q", outcome.WinnerID)
	}
}
