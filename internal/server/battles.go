package server

import (
	"errors"
	"log"
	"net/http"

	"prompt-battles/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type startBattleRequest struct {
	RoomID      string `json:"room_id" validate:"required"`
	UserID      uint   `json:"user_id"`
	TotalRounds int    `json:"total_rounds"`
}

type submitPromptRequest struct {
	RoundID    uint   `json:"round_id" validate:"required"`
	BattleID   uint   `json:"battle_id" validate:"required"`
	UserID     uint   `json:"user_id"`
	PromptText string `json:"prompt_text"`
}

type advanceRoundRequest struct {
	RoomID   string `json:"room_id" validate:"required"`
	BattleID uint   `json:"battle_id" validate:"required"`
	RoundID  uint   `json:"round_id" validate:"required"`
	UserID   uint   `json:"user_id"`
}

// roundOutcome names the two legal results of inserting a round: this writer
// created it, or a concurrent writer already had.
type roundOutcome int

const (
	roundCreated roundOutcome = iota
	roundAlreadyExists
)

func (s *Server) handleStartBattle(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var req startBattleRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "room_id is required")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeOperationError(w, err)
		return
	}
	if req.UserID != 0 && req.UserID != user.ID {
		writeOperationError(w, errForbidden("user_id does not match the authenticated caller"))
		return
	}
	code, err := validateRoomCode(req.RoomID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	room, err := s.loadRoom(code)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if s.cfg.EnforceHostStart {
		if _, err := s.requireHost(code, user.ID); err != nil {
			writeOperationError(w, err)
			return
		}
	} else if _, err := s.memberOf(code, user.ID); err != nil {
		writeOperationError(w, err)
		return
	}
	if room.ActiveBattleID != nil {
		var active db.Battle
		if err := s.db.First(&active, *room.ActiveBattleID).Error; err == nil && active.Status == db.BattleActive {
			writeOperationError(w, errPrecondition("a battle is already in progress"))
			return
		}
	}
	if err := s.allGuestsReady(code); err != nil {
		writeOperationError(w, err)
		return
	}

	// Draw the image before creating anything so an empty pool leaves no
	// half-started battle behind.
	image, err := s.drawRandomImage()
	if err != nil {
		writeOperationError(w, err)
		return
	}

	totalRounds := clampTotalRounds(req.TotalRounds, room.TotalRounds, s.cfg.MaxTotalRounds)
	now := timeNowUTC()
	battle := db.Battle{
		RoomCode:     code,
		CurrentRound: 1,
		TotalRounds:  totalRounds,
		Status:       db.BattleActive,
		StartedAt:    now,
	}
	if err := s.db.Create(&battle).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	if err := s.db.Model(&db.Room{}).Where("code = ?", code).
		Update("active_battle_id", battle.ID).Error; err != nil {
		writeOperationError(w, err)
		return
	}

	round, outcome, err := s.createRound(room.Code, battle.ID, 1, image)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	log.Printf("battle started room_id=%s battle_id=%d total_rounds=%d round_id=%d", code, battle.ID, totalRounds, round.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"battle_id":    battle.ID,
		"round_id":     round.ID,
		"round_number": round.RoundNumber,
		"image_url":    round.ImageURL,
	})
	if outcome == roundCreated {
		s.broadcastPhase(code, eventPhaseUpdate, EventPayload{
			Phase:       phaseSubmission,
			Time:        s.cfg.SubmissionSeconds,
			ImageURL:    round.ImageURL,
			RoundID:     round.ID,
			RoundNumber: round.RoundNumber,
			BattleID:    battle.ID,
			TotalRounds: totalRounds,
		})
		s.scheduleRoundFinalize(round)
	}
}

// allGuestsReady enforces the readiness gate. A room with zero non-host
// members passes vacuously.
func (s *Server) allGuestsReady(roomCode string) error {
	var notReady int64
	err := s.db.Model(&db.RoomPlayer{}).
		Where("room_code = ? AND is_host = ? AND is_ready = ?", roomCode, false, false).
		Count(&notReady).Error
	if err != nil {
		return err
	}
	if notReady > 0 {
		return errPrecondition("all non-host players must be ready before starting")
	}
	return nil
}

func (s *Server) drawRandomImage() (*db.Image, error) {
	var image db.Image
	if err := s.db.Order("RANDOM()").First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errExhausted("no images available")
		}
		return nil, err
	}
	return &image, nil
}

// createRound inserts the round guarded by the (battle, round_number) unique
// index. A unique violation means a concurrent writer advanced first; the
// existing row is returned with roundAlreadyExists.
func (s *Server) createRound(roomCode string, battleID uint, number int, image *db.Image) (*db.Round, roundOutcome, error) {
	round := db.Round{
		RoomCode:    roomCode,
		BattleID:    battleID,
		RoundNumber: number,
		ImageID:     image.ID,
		ImageURL:    image.URL,
		StartedAt:   timeNowUTC(),
	}
	if err := s.db.Create(&round).Error; err != nil {
		if db.IsUniqueViolation(err) {
			var existing db.Round
			if lookupErr := s.db.Where("battle_id = ? AND round_number = ?", battleID, number).
				First(&existing).Error; lookupErr != nil {
				return nil, roundAlreadyExists, lookupErr
			}
			return &existing, roundAlreadyExists, nil
		}
		return nil, roundCreated, err
	}
	return &round, roundCreated, nil
}

func (s *Server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var req submitPromptRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "round_id, battle_id and prompt_text are required")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeOperationError(w, err)
		return
	}
	if req.UserID != 0 && req.UserID != user.ID {
		writeOperationError(w, errForbidden("user_id does not match the authenticated caller"))
		return
	}
	text, err := validatePromptText(req.PromptText)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var round db.Round
	if err := s.db.Where("id = ? AND battle_id = ?", req.RoundID, req.BattleID).First(&round).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeOperationError(w, errNotFound("round not found"))
			return
		}
		writeOperationError(w, err)
		return
	}
	if _, err := s.memberOf(round.RoomCode, user.ID); err != nil {
		writeOperationError(w, err)
		return
	}
	if err := s.upsertPrompt(round.ID, round.BattleID, user.ID, text); err != nil {
		writeOperationError(w, err)
		return
	}
	log.Printf("prompt submitted room_id=%s round_id=%d user_id=%d empty=%t", round.RoomCode, round.ID, user.ID, text == "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// upsertPrompt records a submission keyed by (round, user); a later call for
// the same round overwrites the earlier text rather than duplicating.
func (s *Server) upsertPrompt(roundID, battleID, userID uint, text string) error {
	prompt := db.Prompt{
		RoundID:  roundID,
		BattleID: battleID,
		UserID:   userID,
		Text:     text,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "updated_at"}),
	}).Create(&prompt).Error
}

func (s *Server) handleAdvanceRound(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var req advanceRoundRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "room_id, battle_id and round_id are required")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeOperationError(w, err)
		return
	}
	code, err := validateRoomCode(req.RoomID)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if s.cfg.EnforceHostAdvance {
		if _, err := s.requireHost(code, user.ID); err != nil {
			writeOperationError(w, err)
			return
		}
	} else if _, err := s.memberOf(code, user.ID); err != nil {
		writeOperationError(w, err)
		return
	}

	var battle db.Battle
	if err := s.db.Where("id = ? AND room_code = ?", req.BattleID, code).First(&battle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeOperationError(w, errNotFound("battle not found"))
			return
		}
		writeOperationError(w, err)
		return
	}
	switch battle.Status {
	case db.BattleFinished:
		// Repeat calls on a finished battle stay terminal and do not
		// re-broadcast.
		writeJSON(w, http.StatusOK, map[string]any{"finished": true})
		return
	case db.BattleArchived:
		writeOperationError(w, errPrecondition("battle is archived"))
		return
	}

	var observed db.Round
	if err := s.db.Where("id = ? AND battle_id = ?", req.RoundID, battle.ID).First(&observed).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeOperationError(w, errNotFound("round not found"))
			return
		}
		writeOperationError(w, err)
		return
	}

	// The target is anchored to the round the caller just played, not to the
	// battle's current_round. A duplicate advance that lands after the first
	// one already committed still names the old round, so it resolves to a
	// round that exists and is absorbed instead of skipping a submission
	// window.
	nextRound := observed.RoundNumber + 1

	var existing db.Round
	err = s.db.Where("battle_id = ? AND round_number = ?", battle.ID, nextRound).First(&existing).Error
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "already_advanced": true})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		writeOperationError(w, err)
		return
	}

	if nextRound > battle.TotalRounds {
		if err := s.db.Model(&db.Battle{}).Where("id = ?", battle.ID).
			Update("status", db.BattleFinished).Error; err != nil {
			writeOperationError(w, err)
			return
		}
		log.Printf("battle finished room_id=%s battle_id=%d", code, battle.ID)
		writeJSON(w, http.StatusOK, map[string]any{"finished": true})
		s.broadcastPhase(code, eventGameFinished, EventPayload{BattleID: battle.ID})
		return
	}

	image, err := s.drawRandomImage()
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if err := s.db.Model(&db.Battle{}).Where("id = ? AND current_round < ?", battle.ID, nextRound).
		Update("current_round", nextRound).Error; err != nil {
		writeOperationError(w, err)
		return
	}
	round, outcome, err := s.createRound(code, battle.ID, nextRound, image)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if outcome == roundAlreadyExists {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "already_advanced": true})
		return
	}
	log.Printf("round advanced room_id=%s battle_id=%d round=%d round_id=%d", code, battle.ID, nextRound, round.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "round": nextRound, "round_id": round.ID})
	s.broadcastPhase(code, eventPhaseUpdate, EventPayload{
		Phase:       phaseSubmission,
		Time:        s.cfg.SubmissionSeconds,
		ImageURL:    round.ImageURL,
		RoundID:     round.ID,
		RoundNumber: round.RoundNumber,
		BattleID:    battle.ID,
		TotalRounds: battle.TotalRounds,
	})
	s.scheduleRoundFinalize(round)
}
