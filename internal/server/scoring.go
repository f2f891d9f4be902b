package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"prompt-battles/internal/db"
	"prompt-battles/internal/judge"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const emptyPromptJustification = "no prompt submitted in time"

type scoreRoundRequest struct {
	RoomID   string `json:"room_id" validate:"required"`
	RoundID  uint   `json:"round_id" validate:"required"`
	BattleID uint   `json:"battle_id" validate:"required"`
	ImageURL string `json:"image_url"`
}

func (s *Server) handleScoreRound(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	var req scoreRoundRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "room_id, round_id and battle_id are required")
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
	if _, err := s.memberOf(code, user.ID); err != nil {
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
	imageURL := req.ImageURL
	if imageURL == "" {
		imageURL = round.ImageURL
	}

	evaluations, err := s.scoreRound(r.Context(), &round, imageURL)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"evaluations": evaluations,
	})
	s.broadcastPhase(round.RoomCode, eventResultsReady, EventPayload{RoundID: round.ID})
}

// scoreRound runs the full scoring pass for a round. The pass is safe to
// re-run: per-user totals are always re-derived from prompt rows rather than
// incremented, so a retried call converges instead of double-counting.
func (s *Server) scoreRound(ctx context.Context, round *db.Round, imageURL string) ([]judge.Evaluation, error) {
	if err := s.autoFillMissingPrompts(round); err != nil {
		return nil, err
	}

	var prompts []db.Prompt
	if err := s.db.Where("round_id = ?", round.ID).Order("id asc").Find(&prompts).Error; err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, errValidation("no prompts found for round")
	}

	// Empty submissions never reach the judge: they get a fixed zero locally.
	evaluations := make([]judge.Evaluation, 0, len(prompts))
	entries := make([]judge.Entry, 0, len(prompts))
	for _, prompt := range prompts {
		if prompt.Text == "" {
			evaluations = append(evaluations, judge.Evaluation{
				PromptID:      prompt.ID,
				UserID:        prompt.UserID,
				Score:         0,
				Justification: emptyPromptJustification,
			})
			continue
		}
		entries = append(entries, judge.Entry{
			PromptID: prompt.ID,
			UserID:   prompt.UserID,
			Text:     prompt.Text,
		})
	}

	if len(entries) > 0 {
		if s.judge == nil {
			return nil, errUpstream("judge is not configured")
		}
		judged, err := s.judge.ScoreRound(ctx, imageURL, entries)
		if err != nil {
			return nil, errUpstream(err.Error())
		}
		known := make(map[uint]uint, len(prompts))
		for _, prompt := range prompts {
			known[prompt.ID] = prompt.UserID
		}
		for _, eval := range judged {
			userID, ok := known[eval.PromptID]
			if !ok {
				continue
			}
			eval.UserID = userID
			evaluations = append(evaluations, eval)
		}
	}

	for _, eval := range evaluations {
		if err := s.applyEvaluation(round, eval); err != nil {
			return nil, err
		}
	}
	if err := s.rewriteRanks(round.BattleID); err != nil {
		return nil, err
	}
	log.Printf("round scored room_id=%s round_id=%d judged=%d empty=%d", round.RoomCode, round.ID, len(entries), len(evaluations)-len(entries))
	return evaluations, nil
}

// autoFillMissingPrompts upserts an empty prompt for every room member who
// never submitted, so each member has exactly one row before scoring. The
// DoNothing conflict clause keeps a concurrent late submission intact.
func (s *Server) autoFillMissingPrompts(round *db.Round) error {
	var members []db.RoomPlayer
	if err := s.db.Where("room_code = ?", round.RoomCode).Find(&members).Error; err != nil {
		return err
	}
	for _, member := range members {
		prompt := db.Prompt{
			RoundID:  round.ID,
			BattleID: round.BattleID,
			UserID:   member.UserID,
			Text:     "",
		}
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "round_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&prompt).Error
		if err != nil && !db.IsUniqueViolation(err) {
			return err
		}
	}
	return nil
}

// applyEvaluation writes the verdict onto the prompt row, un-readies the
// player for the next submission window, and refreshes the durable aggregate.
func (s *Server) applyEvaluation(round *db.Round, eval judge.Evaluation) error {
	err := s.db.Model(&db.Prompt{}).Where("id = ?", eval.PromptID).Updates(map[string]any{
		"score":         eval.Score,
		"justification": eval.Justification,
	}).Error
	if err != nil {
		return err
	}
	// The host stays ready; only guests gate the next round.
	err = s.db.Model(&db.RoomPlayer{}).
		Where("room_code = ? AND user_id = ? AND is_host = ?", round.RoomCode, eval.UserID, false).
		Update("is_ready", false).Error
	if err != nil {
		return err
	}
	return s.upsertBattleScore(round, eval.UserID)
}

// upsertBattleScore recomputes the user's battle total as a sum over their
// persisted prompt scores. Deriving from source rows is what makes scoring
// retries self-correcting.
func (s *Server) upsertBattleScore(round *db.Round, userID uint) error {
	var total int
	err := s.db.Model(&db.Prompt{}).
		Where("battle_id = ? AND user_id = ? AND score IS NOT NULL", round.BattleID, userID).
		Select("COALESCE(SUM(score), 0)").
		Scan(&total).Error
	if err != nil {
		return err
	}
	score := db.BattleScore{
		BattleID:   round.BattleID,
		RoomCode:   round.RoomCode,
		UserID:     userID,
		TotalScore: total,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "battle_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_score", "updated_at"}),
	}).Create(&score).Error
}

// rewriteRanks reassigns 1..K over all participants, highest total first.
// Ties break on ascending user id so re-runs are deterministic.
func (s *Server) rewriteRanks(battleID uint) error {
	var scores []db.BattleScore
	err := s.db.Where("battle_id = ?", battleID).
		Order("total_score desc").Order("user_id asc").
		Find(&scores).Error
	if err != nil {
		return err
	}
	for i, score := range scores {
		rank := i + 1
		if score.Rank == rank {
			continue
		}
		if err := s.db.Model(&db.BattleScore{}).Where("id = ?", score.ID).
			Update("rank", rank).Error; err != nil {
			return err
		}
	}
	return nil
}
