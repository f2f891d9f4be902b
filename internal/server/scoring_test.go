package server

import (
	"errors"
	"net/http"
	"testing"

	"prompt-battles/internal/db"
)

func TestScoreRoundSkipsEmptyPrompts(t *testing.T) {
	stub := &stubJudge{}
	_, ts, conn := newTestServer(t, stub)
	_, hostToken := createUser(t, ts, "host")
	guestID, guestToken := createUser(t, ts, "guest")
	code := createRoom(t, ts, hostToken, 1)
	joinRoom(t, ts, guestToken, code)
	markReady(t, ts, guestToken, code, true)
	seedImages(t, conn, 1)
	battleID, roundID := startBattle(t, ts, hostToken, code)

	// Only the host submits; the guest times out and is auto-filled.
	submitPrompt(t, ts, hostToken, roundID, battleID, "a sailboat in fog")

	resp, body := scoreRound(t, ts, hostToken, code, roundID, battleID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score round: status %d body %v", resp.StatusCode, body)
	}

	if len(stub.entries) != 1 {
		t.Fatalf("judge should see only non-empty prompts, saw %d", len(stub.entries))
	}
	if stub.entries[0].Text != "a sailboat in fog" {
		t.Fatalf("unexpected judged text %q", stub.entries[0].Text)
	}

	var guestPrompt db.Prompt
	if err := conn.Where("round_id = ? AND user_id = ?", roundID, guestID).First(&guestPrompt).Error; err != nil {
		t.Fatalf("guest prompt missing: %v", err)
	}
	if guestPrompt.Text != "" {
		t.Fatalf("expected auto-filled empty prompt, got %q", guestPrompt.Text)
	}
	if guestPrompt.Score == nil || *guestPrompt.Score != 0 {
		t.Fatalf("expected zero score for empty prompt, got %v", guestPrompt.Score)
	}
	if guestPrompt.Justification != emptyPromptJustification {
		t.Fatalf("unexpected justification %q", guestPrompt.Justification)
	}
}

func TestScoreRoundRerunDoesNotDoubleCount(t *testing.T) {
	stub := &stubJudge{scores: map[uint]int{}}
	_, ts, conn := newTestServer(t, stub)
	hostID, hostToken := createUser(t, ts, "host")
	stub.scores[hostID] = 70
	code := createRoom(t, ts, hostToken, 1)
	seedImages(t, conn, 1)
	battleID, roundID := startBattle(t, ts, hostToken, code)
	submitPrompt(t, ts, hostToken, roundID, battleID, "a cat on a windowsill")

	for i := 0; i < 2; i++ {
		resp, body := scoreRound(t, ts, hostToken, code, roundID, battleID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("score pass %d: status %d body %v", i+1, resp.StatusCode, body)
		}
	}
	if stub.calls != 2 {
		t.Fatalf("expected 2 judge calls, got %d", stub.calls)
	}

	var score db.BattleScore
	if err := conn.Where("battle_id = ? AND user_id = ?", battleID, hostID).First(&score).Error; err != nil {
		t.Fatalf("load score: %v", err)
	}
	if score.TotalScore != 70 {
		t.Fatalf("total must not double-count on rescore, got %d", score.TotalScore)
	}
	var rows int64
	if err := conn.Model(&db.BattleScore{}).Where("battle_id = ?", battleID).Count(&rows).Error; err != nil {
		t.Fatalf("count score rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected single aggregate row, got %d", rows)
	}
}

func TestScoreRoundRanksArePermutation(t *testing.T) {
	stub := &stubJudge{scores: map[uint]int{}}
	_, ts, conn := newTestServer(t, stub)
	hostID, hostToken := createUser(t, ts, "host")
	aliceID, aliceToken := createUser(t, ts, "alice")
	bobID, bobToken := createUser(t, ts, "bob")
	stub.scores[hostID] = 40
	stub.scores[aliceID] = 90
	stub.scores[bobID] = 90

	code := createRoom(t, ts, hostToken, 1)
	joinRoom(t, ts, aliceToken, code)
	joinRoom(t, ts, bobToken, code)
	markReady(t, ts, aliceToken, code, true)
	markReady(t, ts, bobToken, code, true)
	seedImages(t, conn, 1)
	battleID, roundID := startBattle(t, ts, hostToken, code)

	submitPrompt(t, ts, hostToken, roundID, battleID, "something vague")
	submitPrompt(t, ts, aliceToken, roundID, battleID, "a precise match")
	submitPrompt(t, ts, bobToken, roundID, battleID, "an equally precise match")
	if resp, body := scoreRound(t, ts, hostToken, code, roundID, battleID); resp.StatusCode != http.StatusOK {
		t.Fatalf("score round: status %d body %v", resp.StatusCode, body)
	}

	var scores []db.BattleScore
	if err := conn.Where("battle_id = ?", battleID).Order("rank asc").Find(&scores).Error; err != nil {
		t.Fatalf("load scores: %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(scores))
	}
	for i, score := range scores {
		if score.Rank != i+1 {
			t.Fatalf("ranks must be 1..K without gaps, got %+v", scores)
		}
	}
	// Tied totals break on ascending user id.
	if scores[0].UserID != aliceID || scores[1].UserID != bobID || scores[2].UserID != hostID {
		t.Fatalf("unexpected rank order: %+v", scores)
	}
}

func TestScoreRoundJudgeUnavailable(t *testing.T) {
	_, ts, conn := newTestServer(t, nil)
	_, hostToken := createUser(t, ts, "host")
	code := createRoom(t, ts, hostToken, 1)
	seedImages(t, conn, 1)
	battleID, roundID := startBattle(t, ts, hostToken, code)
	submitPrompt(t, ts, hostToken, roundID, battleID, "a judged prompt")

	resp, _ := scoreRound(t, ts, hostToken, code, roundID, battleID)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 without a judge, got %d", resp.StatusCode)
	}
}

func TestScoreRoundJudgeError(t *testing.T) {
	stub := &stubJudge{err: errors.New("model overloaded")}
	_, ts, conn := newTestServer(t, stub)
	_, hostToken := createUser(t, ts, "host")
	code := createRoom(t, ts, hostToken, 1)
	seedImages(t, conn, 1)
	battleID, roundID := startBattle(t, ts, hostToken, code)
	submitPrompt(t, ts, hostToken, roundID, battleID, "a judged prompt")

	resp, _ := scoreRound(t, ts, hostToken, code, roundID, battleID)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 on judge failure, got %d", resp.StatusCode)
	}

	// Nothing was scored, so a retry is still possible.
	var scored int64
	if err := conn.Model(&db.Prompt{}).Where("round_id = ? AND score IS NOT NULL", roundID).Count(&scored).Error; err != nil {
		t.Fatalf("count scored: %v", err)
	}
	if scored != 0 {
		t.Fatalf("expected no scored prompts after judge failure, got %d", scored)
	}
}

func TestScoreRoundAllEmptyNeverCallsJudge(t *testing.T) {
	stub := &stubJudge{}
	_, ts, conn := newTestServer(t, stub)
	_, hostToken := createUser(t, ts, "host")
	code := createRoom(t, ts, hostToken, 1)
	seedImages(t, conn, 1)
	battleID, roundID := startBattle(t, ts, hostToken, code)

	resp, body := scoreRound(t, ts, hostToken, code, roundID, battleID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score round: status %d body %v", resp.StatusCode, body)
	}
	if stub.calls != 0 {
		t.Fatalf("judge must not be called for an all-empty round, got %d calls", stub.calls)
	}
}

func TestScoreRoundUnknownRound(t *testing.T) {
	stub := &stubJudge{}
	_, ts, conn := newTestServer(t, stub)
	_, hostToken := createUser(t, ts, "host")
	code := createRoom(t, ts, hostToken, 1)
	seedImages(t, conn, 1)
	battleID, _ := startBattle(t, ts, hostToken, code)

	resp, _ := scoreRound(t, ts, hostToken, code, 9999, battleID)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown round, got %d", resp.StatusCode)
	}
}
