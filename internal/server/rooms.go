package server

import (
	"errors"
	"log"
	"net/http"

	"prompt-battles/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type createRoomRequest struct {
	Title       string `json:"title" validate:"required"`
	TotalRounds int    `json:"total_rounds"`
}

type readyRequest struct {
	IsReady bool `json:"is_ready"`
}

type settingsRequest struct {
	TotalRounds int `json:"total_rounds" validate:"required,min=1"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var req createRoomRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeOperationError(w, err)
		return
	}
	title, err := validateTitle(req.Title)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	rounds := clampTotalRounds(req.TotalRounds, s.cfg.DefaultTotalRounds, s.cfg.MaxTotalRounds)

	room, err := s.createRoom(title, user.ID, rounds)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	log.Printf("room created room_id=%s host_id=%d total_rounds=%d", room.Code, user.ID, rounds)
	writeJSON(w, http.StatusCreated, map[string]any{"room_id": room.Code})
}

// createRoom generates a code and inserts the room, retrying a bounded number
// of times on code collision. The collision signal is the primary-key unique
// violation, not a pre-read.
func (s *Server) createRoom(title string, hostID uint, totalRounds int) (*db.Room, error) {
	now := timeNowUTC()
	for attempt := 0; attempt < s.cfg.RoomCodeAttempts; attempt++ {
		room := db.Room{
			Code:        newRoomCode(),
			Title:       title,
			HostID:      hostID,
			TotalRounds: totalRounds,
		}
		if err := s.db.Create(&room).Error; err != nil {
			if db.IsUniqueViolation(err) {
				continue
			}
			return nil, err
		}
		host := db.RoomPlayer{
			RoomCode:     room.Code,
			UserID:       hostID,
			IsHost:       true,
			IsReady:      true,
			LastActiveAt: now,
		}
		if err := s.db.Create(&host).Error; err != nil {
			return nil, err
		}
		return &room, nil
	}
	return nil, errInternal("failed to create room")
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	code, err := validateRoomCode(r.PathValue("code"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	room, err := s.loadRoom(code)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var members []db.RoomPlayer
	if err := s.db.Where("room_code = ?", code).Order("created_at asc").Find(&members).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	roster := make([]map[string]any, 0, len(members))
	for _, member := range members {
		roster = append(roster, map[string]any{
			"user_id":        member.UserID,
			"is_host":        member.IsHost,
			"is_ready":       member.IsReady,
			"last_active_at": member.LastActiveAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":          room.Code,
		"title":            room.Title,
		"host_id":          room.HostID,
		"total_rounds":     room.TotalRounds,
		"active_battle_id": room.ActiveBattleID,
		"players":          roster,
	})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	code, err := validateRoomCode(r.PathValue("code"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	room, err := s.loadRoom(code)
	if err != nil {
		writeOperationError(w, err)
		return
	}

	// Upsert keeps repeat joins by the same user idempotent: one membership
	// row, no duplicate-key error surfaced to the caller.
	member := db.RoomPlayer{
		RoomCode:     room.Code,
		UserID:       user.ID,
		IsHost:       false,
		IsReady:      false,
		LastActiveAt: timeNowUTC(),
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_code"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&member).Error
	if err != nil && !db.IsUniqueViolation(err) {
		writeOperationError(w, err)
		return
	}
	log.Printf("player joined room_id=%s user_id=%d", room.Code, user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "room_id": room.Code})
	s.broadcastLobby(room.Code, eventPlayerJoined, EventPayload{UserID: user.ID})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	code, err := validateRoomCode(r.PathValue("code"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var req readyRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "is_ready is required")
		return
	}
	member, err := s.memberOf(code, user.ID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	// The host is always ready; toggling silently succeeds so clients need no
	// special case.
	if member.IsHost {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	err = s.db.Model(&db.RoomPlayer{}).
		Where("room_code = ? AND user_id = ?", code, user.ID).
		Update("is_ready", req.IsReady).Error
	if err != nil {
		writeOperationError(w, err)
		return
	}
	log.Printf("player ready room_id=%s user_id=%d is_ready=%t", code, user.ID, req.IsReady)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
	isReady := req.IsReady
	s.broadcastLobby(code, eventPlayerReady, EventPayload{UserID: user.ID, IsReady: &isReady})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	code, err := validateRoomCode(r.PathValue("code"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var req settingsRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "total_rounds is required")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeOperationError(w, err)
		return
	}
	room, err := s.loadRoom(code)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if _, err := s.requireHost(code, user.ID); err != nil {
		writeOperationError(w, err)
		return
	}
	if room.ActiveBattleID != nil {
		var active db.Battle
		if err := s.db.First(&active, *room.ActiveBattleID).Error; err == nil && active.Status == db.BattleActive {
			writeOperationError(w, errPrecondition("settings are locked while a battle is active"))
			return
		}
	}
	rounds := clampTotalRounds(req.TotalRounds, s.cfg.DefaultTotalRounds, s.cfg.MaxTotalRounds)
	if err := s.db.Model(&db.Room{}).Where("code = ?", code).Update("total_rounds", rounds).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	log.Printf("settings updated room_id=%s total_rounds=%d", code, rounds)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "total_rounds": rounds})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	code, err := validateRoomCode(r.PathValue("code"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	err = s.db.Model(&db.RoomPlayer{}).
		Where("room_code = ? AND user_id = ?", code, user.ID).
		Update("last_active_at", timeNowUTC()).Error
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleResetRoom prepares a room for a rematch: the finished battle is
// archived so live-battle queries skip it, guests are un-readied, and the
// host is forced ready. Historical rounds, prompts, and battle scores are
// never deleted.
func (s *Server) handleResetRoom(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	code, err := validateRoomCode(r.PathValue("code"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	room, err := s.loadRoom(code)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if _, err := s.requireHost(code, user.ID); err != nil {
		writeOperationError(w, err)
		return
	}
	if room.ActiveBattleID != nil {
		var active db.Battle
		err := s.db.First(&active, *room.ActiveBattleID).Error
		if err == nil && active.Status == db.BattleActive {
			writeOperationError(w, errPrecondition("battle is still in progress"))
			return
		}
	}

	if err := s.db.Model(&db.Battle{}).
		Where("room_code = ? AND status = ?", code, db.BattleFinished).
		Update("status", db.BattleArchived).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	if err := s.db.Model(&db.Room{}).Where("code = ?", code).
		Update("active_battle_id", nil).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	if err := s.db.Model(&db.RoomPlayer{}).
		Where("room_code = ? AND is_host = ?", code, false).
		Update("is_ready", false).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	if err := s.db.Model(&db.RoomPlayer{}).
		Where("room_code = ? AND is_host = ?", code, true).
		Update("is_ready", true).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	log.Printf("room reset room_id=%s", code)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
	s.broadcastLobby(code, eventRoomReset, EventPayload{})
}

func (s *Server) loadRoom(code string) (*db.Room, error) {
	var room db.Room
	if err := s.db.Where("code = ?", code).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound("room not found")
		}
		return nil, err
	}
	return &room, nil
}

func (s *Server) roomExists(code string) bool {
	var count int64
	if err := s.db.Model(&db.Room{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}
