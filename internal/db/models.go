package db

import (
	"time"

	"gorm.io/datatypes"
)

const (
	BattleActive   = "active"
	BattleFinished = "finished"
	BattleArchived = "archived"
)

type User struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:64;not null;uniqueIndex"`
	APIToken  string    `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Room is a lobby keyed by its shareable 6-character code. Rooms are never
// hard-deleted; they are reused across rematches.
type Room struct {
	Code           string       `gorm:"primaryKey;size:6"`
	Title          string       `gorm:"size:64;not null"`
	HostID         uint         `gorm:"index;not null"`
	TotalRounds    int          `gorm:"not null"`
	ActiveBattleID *uint        `gorm:"index"`
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
	Players        []RoomPlayer `gorm:"foreignKey:RoomCode;references:Code"`
	Battles        []Battle     `gorm:"foreignKey:RoomCode;references:Code"`
}

type RoomPlayer struct {
	ID           uint      `gorm:"primaryKey"`
	RoomCode     string    `gorm:"size:6;index;not null;uniqueIndex:idx_room_players_room_user"`
	UserID       uint      `gorm:"index;not null;uniqueIndex:idx_room_players_room_user"`
	IsHost       bool      `gorm:"not null;default:false"`
	IsReady      bool      `gorm:"not null;default:false"`
	LastActiveAt time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// Battle is one played-through game inside a room. TotalRounds is copied from
// the room at creation so lobby settings edits never affect a running game.
type Battle struct {
	ID           uint          `gorm:"primaryKey"`
	RoomCode     string        `gorm:"size:6;index;not null"`
	CurrentRound int           `gorm:"not null"`
	TotalRounds  int           `gorm:"not null"`
	Status       string        `gorm:"size:16;not null"`
	StartedAt    time.Time     `gorm:"not null"`
	CreatedAt    time.Time     `gorm:"not null"`
	UpdatedAt    time.Time     `gorm:"not null"`
	Rounds       []Round       `gorm:"foreignKey:BattleID"`
	Scores       []BattleScore `gorm:"foreignKey:BattleID"`
}

// Round rows are immutable after creation. The (battle, round_number) unique
// index is the idempotency guard for concurrent advance calls.
type Round struct {
	ID          uint      `gorm:"primaryKey"`
	RoomCode    string    `gorm:"size:6;index;not null"`
	BattleID    uint      `gorm:"index;not null;uniqueIndex:idx_rounds_battle_number"`
	RoundNumber int       `gorm:"not null;uniqueIndex:idx_rounds_battle_number"`
	ImageID     uint      `gorm:"not null"`
	ImageURL    string    `gorm:"size:512;not null"`
	StartedAt   time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	Prompts     []Prompt  `gorm:"foreignKey:RoundID"`
}

type Prompt struct {
	ID            uint      `gorm:"primaryKey"`
	RoundID       uint      `gorm:"index;not null;uniqueIndex:idx_prompts_round_user"`
	BattleID      uint      `gorm:"index;not null"`
	UserID        uint      `gorm:"index;not null;uniqueIndex:idx_prompts_round_user"`
	Text          string    `gorm:"size:500;not null"`
	Score         *int
	Justification string    `gorm:"size:1000"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// BattleScore is the durable per-user aggregate for a battle. TotalScore is
// always recomputed from prompt rows, never incremented in place.
type BattleScore struct {
	ID         uint      `gorm:"primaryKey"`
	BattleID   uint      `gorm:"index;not null;uniqueIndex:idx_battle_scores_battle_user"`
	RoomCode   string    `gorm:"size:6;index;not null"`
	UserID     uint      `gorm:"index;not null;uniqueIndex:idx_battle_scores_battle_user"`
	TotalScore int       `gorm:"not null"`
	Rank       int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type Image struct {
	ID        uint      `gorm:"primaryKey"`
	URL       string    `gorm:"size:512;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

// RoomEvent is a durable audit record of every realtime broadcast.
type RoomEvent struct {
	ID        uint           `gorm:"primaryKey"`
	RoomCode  string         `gorm:"size:6;index;not null"`
	Type      string         `gorm:"size:64;not null"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}
