package server

import (
	"log"
	"net/http"

	"prompt-battles/internal/db"
)

type createUserRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeOperationError(w, err)
		return
	}
	name, err := validateUserName(req.Name)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	user := db.User{
		Name:     name,
		APIToken: newAPIToken(),
	}
	if err := s.db.Create(&user).Error; err != nil {
		if db.IsUniqueViolation(err) {
			writeOperationError(w, errPrecondition("name already taken"))
			return
		}
		writeOperationError(w, err)
		return
	}
	log.Printf("user created user_id=%d", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":   user.ID,
		"api_token": user.APIToken,
	})
}

type historyEntry struct {
	BattleID    uint   `json:"battle_id"`
	RoomID      string `json:"room_id"`
	RoomTitle   string `json:"room_title"`
	TotalScore  int    `json:"total_score"`
	Rank        int    `json:"rank"`
	TotalRounds int    `json:"total_rounds"`
}

// handleHistory lists the caller's battle results, most recent first. Rows
// survive room resets, so archived battles show up here.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var entries []historyEntry
	err = s.db.Model(&db.BattleScore{}).
		Select("battle_scores.battle_id, battle_scores.total_score, battle_scores.rank, battles.room_code as room_id, battles.total_rounds, rooms.title as room_title").
		Joins("JOIN battles ON battles.id = battle_scores.battle_id").
		Joins("JOIN rooms ON rooms.code = battles.room_code").
		Where("battle_scores.user_id = ?", user.ID).
		Order("battle_scores.created_at desc").
		Limit(50).
		Scan(&entries).Error
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"battles": entries,
	})
}
