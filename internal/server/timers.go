package server

import (
	"context"
	"log"
	"time"

	"prompt-battles/internal/db"
)

// scheduleRoundFinalize arms a server-side deadline for a freshly created
// round. The submission window is anchored to round.started_at, so clients
// can race the same countdown while the server guarantees the round is
// eventually finalized even if every client disconnects.
func (s *Server) scheduleRoundFinalize(round *db.Round) {
	if !s.cfg.AutoFinalizeRounds || s.cfg.SubmissionSeconds <= 0 {
		return
	}
	duration := time.Duration(s.cfg.SubmissionSeconds+s.cfg.FinalizeGraceSeconds) * time.Second
	roundID := round.ID

	s.timersMu.Lock()
	if existing, ok := s.timers[roundID]; ok {
		existing.Stop()
	}
	s.timers[roundID] = time.AfterFunc(duration, func() {
		s.finalizeRound(roundID)
	})
	s.timersMu.Unlock()
}

func (s *Server) cancelRoundFinalize(roundID uint) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if timer, ok := s.timers[roundID]; ok {
		timer.Stop()
		delete(s.timers, roundID)
	}
}

// finalizeRound runs the idempotent scoring pass after the deadline. A round
// already scored by a client-triggered call is left untouched.
func (s *Server) finalizeRound(roundID uint) {
	s.cancelRoundFinalize(roundID)

	var round db.Round
	if err := s.db.First(&round, roundID).Error; err != nil {
		return
	}
	scored, err := s.roundFullyScored(&round)
	if err != nil || scored {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := s.scoreRound(ctx, &round, round.ImageURL); err != nil {
		log.Printf("auto-finalize failed room_id=%s round_id=%d error=%v", round.RoomCode, round.ID, err)
		return
	}
	log.Printf("round auto-finalized room_id=%s round_id=%d", round.RoomCode, round.ID)
	s.broadcastPhase(round.RoomCode, eventResultsReady, EventPayload{RoundID: round.ID})
}

// roundFullyScored reports whether every member already has a scored prompt
// row for the round.
func (s *Server) roundFullyScored(round *db.Round) (bool, error) {
	var memberCount int64
	if err := s.db.Model(&db.RoomPlayer{}).Where("room_code = ?", round.RoomCode).
		Count(&memberCount).Error; err != nil {
		return false, err
	}
	var scoredCount int64
	if err := s.db.Model(&db.Prompt{}).
		Where("round_id = ? AND score IS NOT NULL", round.ID).
		Count(&scoredCount).Error; err != nil {
		return false, err
	}
	return scoredCount >= memberCount && memberCount > 0, nil
}
