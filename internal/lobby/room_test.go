package lobby

import (
	"testing"
	"time"

	"snake-arena-server/internal/constants"
	"snake-arena-server/internal/models"
)

// fakeSink buffers every outbound frame so tests can assert on it.
type fakeSink struct {
	ch chan []byte
}

func newFakeSink() *fakeSink { return &fakeSink{ch: make(chan []byte, 64)} }

func (f *fakeSink) Send(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case f.ch <- cp:
	default:
	}
	return nil
}

func testSettings() models.GameSettings {
	return models.GameSettings{
		BoardSize:      20,
		GameSpeed:      50 * time.Millisecond,
		WeaponsEnabled: true,
		MaxGameTime:    5 * time.Minute,
		WinCondition:   constants.WinLastStanding,
	}
}

func newTestPlayer(id string) *models.Player {
	return models.NewPlayer(id, id, "#fff", newFakeSink())
}

func TestAddPlayerRejectsWhenFull(t *testing.T) {
	room := NewRoom("l1", "lobby", "", testSettings(), 1, false, "")
	a := newTestPlayer("a")
	b := newTestPlayer("b")

	if err := room.AddPlayer(a); err != nil {
		t.Fatalf("unexpected error adding first player: %v", err)
	}
	if err := room.AddPlayer(b); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestRemovePlayerTransfersOwnership(t *testing.T) {
	room := NewRoom("l1", "lobby", "", testSettings(), 4, false, "")
	a := newTestPlayer("a")
	b := newTestPlayer("b")
	room.AddPlayer(a)
	room.AddPlayer(b)

	if room.Creator() != "a" {
		t.Fatalf("expected a to be creator, got %q", room.Creator())
	}

	room.RemovePlayer("a")

	if room.Creator() != "b" {
		t.Fatalf("expected ownership to transfer to b, got %q", room.Creator())
	}
}

func TestSetReadyDoesNotAutoStartBelowMinPlayers(t *testing.T) {
	room := NewRoom("l1", "lobby", "", testSettings(), 4, false, "")
	a := newTestPlayer("a")
	room.AddPlayer(a)

	room.SetReady("a", true)
	time.Sleep(constants.AutoStartDelay + 100*time.Millisecond)

	if room.State() != constants.StateWaiting {
		t.Fatalf("expected lobby to remain waiting with a single ready player, got %q", room.State())
	}
}

func TestSetReadyAutoStartsWithTwoReadyPlayers(t *testing.T) {
	room := NewRoom("l1", "lobby", "", testSettings(), 4, false, "")
	a := newTestPlayer("a")
	b := newTestPlayer("b")
	room.AddPlayer(a)
	room.AddPlayer(b)

	room.SetReady("a", true)
	room.SetReady("b", true)

	deadline := time.After(constants.AutoStartDelay + 3*time.Second)
	for {
		if room.State() == constants.StatePlaying {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected lobby to reach playing state, stuck at %q", room.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
	room.CancelTimers()
}

func TestSetReadyUnreadyingCancelsAutoStart(t *testing.T) {
	room := NewRoom("l1", "lobby", "", testSettings(), 4, false, "")
	a := newTestPlayer("a")
	b := newTestPlayer("b")
	room.AddPlayer(a)
	room.AddPlayer(b)

	room.SetReady("a", true)
	room.SetReady("b", true)
	room.SetReady("b", false)

	time.Sleep(constants.AutoStartDelay + 200*time.Millisecond)

	if room.State() != constants.StateWaiting {
		t.Fatalf("expected auto-start to be cancelled by unreadying, got state %q", room.State())
	}
	room.CancelTimers()
}

func TestRankingsOrdersAliveBeforeDeadThenScoreThenKills(t *testing.T) {
	room := NewRoom("l1", "lobby", "", testSettings(), 4, false, "")
	a := newTestPlayer("a")
	b := newTestPlayer("b")
	c := newTestPlayer("c")
	room.AddPlayer(a)
	room.AddPlayer(b)
	room.AddPlayer(c)

	a.Lock()
	a.IsAlive = false
	a.Score = 100
	a.Unlock()

	b.Lock()
	b.IsAlive = true
	b.Score = 10
	b.Unlock()

	c.Lock()
	c.IsAlive = true
	c.Score = 50
	c.Unlock()

	rankings := room.Rankings()
	if len(rankings) != 3 {
		t.Fatalf("expected 3 ranked players, got %d", len(rankings))
	}
	if rankings[0].ID != "c" || rankings[1].ID != "b" || rankings[2].ID != "a" {
		t.Fatalf("unexpected ranking order: %v", []string{rankings[0].ID, rankings[1].ID, rankings[2].ID})
	}
}

func TestListingExcludesPrivateAndNonWaitingLobbies(t *testing.T) {
	pub := NewRoom("l1", "public", "", testSettings(), 4, false, "")
	if _, ok := pub.Listing(); !ok {
		t.Fatalf("expected a public waiting lobby to be listed")
	}

	priv := NewRoom("l2", "private", "", testSettings(), 4, true, "secret")
	if _, ok := priv.Listing(); ok {
		t.Fatalf("expected a private lobby to be excluded from listing")
	}

	pub.mu.Lock()
	pub.state = constants.StatePlaying
	pub.mu.Unlock()
	if _, ok := pub.Listing(); ok {
		t.Fatalf("expected a non-waiting lobby to be excluded from listing")
	}
}

func TestHandleDirectionRejectsReversal(t *testing.T) {
	room := NewRoom("l1", "lobby", "", testSettings(), 4, false, "")
	a := newTestPlayer("a")
	room.AddPlayer(a)
	a.Lock()
	a.Dir = models.DirRight
	a.Unlock()

	room.HandleDirection("a", models.DirLeft)

	a.Lock()
	dir := a.Dir
	a.Unlock()
	if dir != models.DirRight {
		t.Fatalf("expected reversal to be rejected, direction is now %+v", dir)
	}
}
