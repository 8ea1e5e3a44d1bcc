// Package weapons is the static catalog of timed power-ups and the
// scheduler that applies and expires their effects on a player.
package weapons

import (
	"math"
	"math/rand"
	"time"

	"snake-arena-server/internal/models"
)

// Rarity tiers, weighted 50/30/15/5.
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityLegendary = "legendary"
)

// Type keys, one per catalog entry.
const (
	SpeedBoost   = "speed_boost"
	Shield       = "shield"
	Ghost        = "ghost"
	DoubleScore  = "double_score"
	FoodBomb     = "food_bomb"
	Teleport     = "teleport"
	Laser        = "laser"
	Shrink       = "shrink"
	Freeze       = "freeze"
	Magnet       = "magnet"
)

// Definition is one catalog entry.
type Definition struct {
	Name        string
	Type        string
	Description string
	Duration    time.Duration
	Effect      string
	Color       string
	Icon        string
	Rarity      string
}

// Catalog is the immutable, process-wide weapon table. It is built once at
// package init and never mutated afterward.
var Catalog = map[string]Definition{
	SpeedBoost: {
		Name: "Speed Boost", Type: SpeedBoost,
		Description: "Move 50% faster for a short time",
		Duration:    8 * time.Second, Effect: "speed",
		Color: "#f1c40f", Icon: "bolt", Rarity: RarityCommon,
	},
	Shield: {
		Name: "Shield", Type: Shield,
		Description: "Immune to fatal collisions",
		Duration:    6 * time.Second, Effect: "invincible",
		Color: "#3498db", Icon: "shield", Rarity: RarityUncommon,
	},
	Ghost: {
		Name: "Ghost", Type: Ghost,
		Description: "Phase through snakes and walls",
		Duration:    6 * time.Second, Effect: "phase",
		Color: "#ecf0f1", Icon: "ghost", Rarity: RarityUncommon,
	},
	DoubleScore: {
		Name: "Double Score", Type: DoubleScore,
		Description: "Food is worth double points",
		Duration:    10 * time.Second, Effect: "score_multiplier",
		Color: "#2ecc71", Icon: "star", Rarity: RarityCommon,
	},
	FoodBomb: {
		Name: "Food Bomb", Type: FoodBomb,
		Description: "Scatters five food items around you",
		Duration:    0, Effect: "spawn_food_ring",
		Color: "#e67e22", Icon: "burst", Rarity: RarityRare,
	},
	Teleport: {
		Name: "Teleport", Type: Teleport,
		Description: "Jump to a random open cell",
		Duration:    0, Effect: "teleport",
		Color: "#9b59b6", Icon: "swirl", Rarity: RarityRare,
	},
	Laser: {
		Name: "Laser", Type: Laser,
		Description: "Reserved for a future offensive effect",
		Duration:    0, Effect: "reserved",
		Color: "#e74c3c", Icon: "laser", Rarity: RarityLegendary,
	},
	Shrink: {
		Name: "Shrink", Type: Shrink,
		Description: "Reserved for a future body-length effect",
		Duration:    0, Effect: "reserved",
		Color: "#1abc9c", Icon: "shrink", Rarity: RarityRare,
	},
	Freeze: {
		Name: "Freeze", Type: Freeze,
		Description: "Reserved for a future crowd-control effect",
		Duration:    0, Effect: "reserved",
		Color: "#34495e", Icon: "snowflake", Rarity: RarityLegendary,
	},
	Magnet: {
		Name: "Magnet", Type: Magnet,
		Description: "Reserved for a future pickup-attraction effect",
		Duration:    0, Effect: "reserved",
		Color: "#95a5a6", Icon: "magnet", Rarity: RarityUncommon,
	},
}

var rarityOrder = []string{RarityCommon, RarityUncommon, RarityRare, RarityLegendary}
var rarityWeights = map[string]int{
	RarityCommon: 50, RarityUncommon: 30, RarityRare: 15, RarityLegendary: 5,
}

var byRarity = func() map[string][]string {
	m := make(map[string][]string)
	for key, def := range Catalog {
		m[def.Rarity] = append(m[def.Rarity], key)
	}
	return m
}()

// GetRandomWeapon picks a rarity by weight, then a weapon uniformly within
// that rarity.
func GetRandomWeapon() string {
	total := 0
	for _, w := range rarityWeights {
		total += w
	}
	roll := rand.Intn(total)
	for _, r := range rarityOrder {
		roll -= rarityWeights[r]
		if roll < 0 {
			pool := byRarity[r]
			if len(pool) == 0 {
				continue
			}
			return pool[rand.Intn(len(pool))]
		}
	}
	// Unreachable given the weights sum to total, kept as a safe fallback.
	return SpeedBoost
}

// ExpireFunc is the shape of a timed effect's revert. Apply schedules each
// revert (as a plain func) with time.AfterFunc and registers the timer on
// the player via Player.SetEffectTimer so a game-ending reset can cancel it
// before it fires.
type ExpireFunc func()

// Apply activates typ's effect on player and, for timed effects, schedules
// its own expiry. spawnFoodRing and teleport are callbacks into the owning
// lobby/engine because they need board occupancy the weapon package itself
// has no access to.
func Apply(player *models.Player, typ string, spawnFoodRing func(center models.Position, count int), teleport func() (models.Position, bool)) (Definition, bool) {
	def, ok := Catalog[typ]
	if !ok {
		return Definition{}, false
	}

	switch def.Effect {
	case "speed":
		player.Lock()
		player.SpeedMultiplier = 1.5
		player.Unlock()
		scheduleRevert(player, typ, def.Duration, func() {
			player.Lock()
			player.SpeedMultiplier = 1
			player.Unlock()
		})
	case "invincible":
		player.Lock()
		player.IsInvincible = true
		player.Unlock()
		scheduleRevert(player, typ, def.Duration, func() {
			player.Lock()
			player.IsInvincible = false
			player.Unlock()
		})
	case "phase":
		player.Lock()
		player.CanPhaseThrough = true
		player.Unlock()
		scheduleRevert(player, typ, def.Duration, func() {
			player.Lock()
			player.CanPhaseThrough = false
			player.Unlock()
		})
	case "score_multiplier":
		player.Lock()
		player.ScoreMultiplier = 2
		player.Unlock()
		scheduleRevert(player, typ, def.Duration, func() {
			player.Lock()
			player.ScoreMultiplier = 1
			player.Unlock()
		})
	case "spawn_food_ring":
		body, _ := player.SnakeSnapshot()
		if len(body) > 0 && spawnFoodRing != nil {
			spawnFoodRing(body[0], 5)
		}
	case "teleport":
		if teleport != nil {
			if pos, ok := teleport(); ok {
				player.Lock()
				if len(player.Snake) > 0 {
					player.Snake[0] = pos
				}
				player.Unlock()
			}
		}
	case "reserved":
		// Catalog entry exists and activation consumes the weapon
		// gameplay effect intentionally not implemented.
	}

	player.Lock()
	player.Weapon = ""
	player.Unlock()

	return def, true
}

func scheduleRevert(player *models.Player, typ string, d time.Duration, revert func()) {
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, revert)
	player.SetEffectTimer(typ, timer)
}

// FoodBombRing returns count grid cells on a radius-2 circle around center,
// rounded to the grid.
func FoodBombRing(center models.Position, count int) []models.Position {
	out := make([]models.Position, 0, count)
	for i := 0; i < count; i++ {
		angle := 2 * math.Pi * float64(i) / float64(count)
		dx := int(math.Round(2 * math.Cos(angle)))
		dy := int(math.Round(2 * math.Sin(angle)))
		out = append(out, models.Position{X: center.X + dx, Y: center.Y + dy})
	}
	return out
}
