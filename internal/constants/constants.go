// Package constants holds the wire-level message catalog and the tunable
// defaults shared across the session, lobby, and engine packages.
package constants

import "time"

// Inbound command types (client -> server).
const (
	MsgConnectPlayer       = "connect_player"
	MsgUpdatePlayerName    = "update_player_name"
	MsgCreateLobby         = "create_lobby"
	MsgJoinLobby           = "join_lobby"
	MsgLeaveLobby          = "leave_lobby"
	MsgSetReady            = "set_ready"
	MsgPlayerInput         = "player_input"
	MsgChatMessage         = "chat_message"
	MsgGetLobbies          = "get_lobbies"
	MsgGetPlayerStats      = "get_player_stats"
	MsgUpdateLobbySettings = "update_lobby_settings"
)

// Outbound message types (server -> client).
const (
	MsgWelcome               = "welcome"
	MsgPlayerInfo            = "player_info"
	MsgConnectionConfirmed   = "connection_confirmed"
	MsgLobbiesList           = "lobbies_list"
	MsgLobbyCreated          = "lobby_created"
	MsgLobbyJoined           = "lobby_joined"
	MsgLobbyLeft             = "lobby_left"
	MsgLobbyReset            = "lobby_reset"
	MsgLobbySettingsUpdated  = "lobby_settings_updated"
	MsgPlayerJoined          = "player_joined"
	MsgPlayerLeft            = "player_left"
	MsgPlayerReadyChanged    = "player_ready_changed"
	MsgPlayerNameChanged     = "player_name_changed"
	MsgGameStarting          = "game_starting"
	MsgCountdown             = "countdown"
	MsgGameStarted           = "game_started"
	MsgGameUpdate            = "game_update"
	MsgGameEnded             = "game_ended"
	MsgKilled                = "killed"
	MsgKillAwarded           = "kill_awarded"
	MsgWeaponAcquired        = "weapon_acquired"
	MsgChatMessageOut        = "chat_message"
	MsgNameUpdated           = "name_updated"
	MsgPlayerStats           = "player_stats"
	MsgServerShutdown        = "server_shutdown"
	MsgError                 = "error"
)

// player_input sub-types.
const (
	InputDirection  = "direction"
	InputUseWeapon  = "use_weapon"
)

// Close reasons sent to clients when the server terminates a connection.
const (
	CloseReasonInactive          = "Inactive"
	CloseReasonManualDisconnect  = "Manual disconnect"
)

// Lifecycle states of a Lobby.
const (
	StateWaiting  = "waiting"
	StateStarting = "starting"
	StatePlaying  = "playing"
	StateFinished = "finished"
)

// Win conditions.
const (
	WinLastStanding = "last_standing"
	WinTimeLimit    = "time_limit"
)

// Gameplay constants and defaults. The board-size, game-speed, max-players,
// idle-timeout and sweep-interval defaults can be overridden through config;
// the rest are fixed.
const (
	DefaultBoardSize   = 20
	MinBoardSize       = 10
	MaxBoardSize       = 40

	DefaultGameSpeed = 150 * time.Millisecond
	MinGameSpeed     = 50 * time.Millisecond
	MaxGameSpeed     = 500 * time.Millisecond

	DefaultMaxGameTime = 5 * time.Minute

	DefaultMaxPlayers = 4
	MinPlayers        = 2
	MaxPlayers        = 8

	FoodValue     = 10
	KillScore     = 50
	FoodSpawnProb   = 0.10
	WeaponSpawnProb = 0.05
	MaxSpawnAttempts = 100

	InitialFoodCount   = 5
	InitialWeaponCount = 3

	AutoStartDelay    = 2 * time.Second
	StartingCountdown = 3 * time.Second
	ResetDelay        = 10 * time.Second

	SessionIdleTimeout = 5 * time.Minute
	SweepInterval      = 30 * time.Second
)
