package server

import (
	"encoding/json"
	"log"

	"prompt-battles/internal/db"

	"gorm.io/datatypes"
)

const (
	eventPhaseUpdate  = "phase_update"
	eventResultsReady = "results_ready"
	eventGameFinished = "game_finished"
	eventPlayerJoined = "player_joined"
	eventPlayerReady  = "player_ready"
	eventRoomReset    = "room_reset"
)

const phaseSubmission = "submission"

// EventPayload is the wire shape of every realtime broadcast.
type EventPayload struct {
	Phase       string `json:"phase,omitempty"`
	Time        int    `json:"time,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	RoundID     uint   `json:"round_id,omitempty"`
	RoundNumber int    `json:"round_number,omitempty"`
	BattleID    uint   `json:"battle_id,omitempty"`
	TotalRounds int    `json:"total_rounds,omitempty"`
	UserID      uint   `json:"user_id,omitempty"`
	IsReady     *bool  `json:"is_ready,omitempty"`
}

func phaseTopic(roomCode string) string { return "room-phase-" + roomCode }
func lobbyTopic(roomCode string) string { return "room-" + roomCode }

// broadcastPhase publishes a gameplay event to the room's phase channel.
// Broadcasting is always the last step of an operation, after durable writes,
// so subscribers never see an event before its data exists.
func (s *Server) broadcastPhase(roomCode, event string, payload EventPayload) {
	s.persistEvent(roomCode, event, payload)
	s.hub.Broadcast(phaseTopic(roomCode), wsMessage{Event: event, Payload: payload})
}

// broadcastLobby publishes a roster event to the room's membership channel.
func (s *Server) broadcastLobby(roomCode, event string, payload EventPayload) {
	s.persistEvent(roomCode, event, payload)
	s.hub.Broadcast(lobbyTopic(roomCode), wsMessage{Event: event, Payload: payload})
}

// persistEvent records the broadcast in the room event log. Failures are
// logged, not surfaced: the event log is an audit trail, not game state.
func (s *Server) persistEvent(roomCode, eventType string, payload EventPayload) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	event := db.RoomEvent{
		RoomCode: roomCode,
		Type:     eventType,
		Payload:  datatypes.JSON(data),
	}
	if err := s.db.Create(&event).Error; err != nil {
		log.Printf("event persist failed room_id=%s type=%s error=%v", roomCode, eventType, err)
	}
}
