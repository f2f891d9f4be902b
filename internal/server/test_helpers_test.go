package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"prompt-battles/internal/config"
	"prompt-battles/internal/db"
	"prompt-battles/internal/judge"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubJudge records what it was asked to score and returns canned verdicts.
type stubJudge struct {
	calls   int
	entries []judge.Entry
	scores  map[uint]int
	err     error
}

func (j *stubJudge) ScoreRound(ctx context.Context, imageURL string, entries []judge.Entry) ([]judge.Evaluation, error) {
	j.calls++
	j.entries = entries
	if j.err != nil {
		return nil, j.err
	}
	out := make([]judge.Evaluation, 0, len(entries))
	for _, entry := range entries {
		score := 50
		if j.scores != nil {
			if fixed, ok := j.scores[entry.UserID]; ok {
				score = fixed
			}
		}
		out = append(out, judge.Evaluation{
			PromptID:      entry.PromptID,
			UserID:        entry.UserID,
			Score:         score,
			Justification: "matches the image",
		})
	}
	return out, nil
}

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("skipping test; sqlite unavailable: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// One connection so every session sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AutoFinalizeRounds = false
	return cfg
}

func newTestServer(t *testing.T, j Judge) (*Server, *httptest.Server, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	srv := New(conn, testConfig(), j)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, conn
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createUser(t *testing.T, ts *httptest.Server, name string) (uint, string) {
	t.Helper()
	resp, body := doRequest(t, ts, http.MethodPost, "/api/users", "", map[string]any{"name": name})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user %s: status %d body %v", name, resp.StatusCode, body)
	}
	id, _ := body["user_id"].(float64)
	token, _ := body["api_token"].(string)
	return uint(id), token
}

func createRoom(t *testing.T, ts *httptest.Server, token string, totalRounds int) string {
	t.Helper()
	resp, body := doRequest(t, ts, http.MethodPost, "/api/rooms", token, map[string]any{
		"title":        "Friday Night",
		"total_rounds": totalRounds,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status %d body %v", resp.StatusCode, body)
	}
	code, _ := body["room_id"].(string)
	return code
}

func joinRoom(t *testing.T, ts *httptest.Server, token, code string) {
	t.Helper()
	resp, body := doRequest(t, ts, http.MethodPost, "/api/rooms/"+code+"/join", token, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join room %s: status %d body %v", code, resp.StatusCode, body)
	}
}

func markReady(t *testing.T, ts *httptest.Server, token, code string, ready bool) {
	t.Helper()
	resp, body := doRequest(t, ts, http.MethodPost, "/api/rooms/"+code+"/ready", token, map[string]any{"is_ready": ready})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark ready: status %d body %v", resp.StatusCode, body)
	}
}

func seedImages(t *testing.T, conn *gorm.DB, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		image := db.Image{URL: fmt.Sprintf("https://images.example/%d.jpg", i+1)}
		if err := conn.Create(&image).Error; err != nil {
			t.Fatalf("seed image: %v", err)
		}
	}
}

func startBattle(t *testing.T, ts *httptest.Server, token, code string) (battleID, roundID uint) {
	t.Helper()
	resp, body := doRequest(t, ts, http.MethodPost, "/api/battles/start", token, map[string]any{"room_id": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start battle: status %d body %v", resp.StatusCode, body)
	}
	battle, _ := body["battle_id"].(float64)
	round, _ := body["round_id"].(float64)
	return uint(battle), uint(round)
}

func submitPrompt(t *testing.T, ts *httptest.Server, token string, roundID, battleID uint, text string) {
	t.Helper()
	resp, body := doRequest(t, ts, http.MethodPost, "/api/battles/prompts", token, map[string]any{
		"round_id":    roundID,
		"battle_id":   battleID,
		"prompt_text": text,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit prompt: status %d body %v", resp.StatusCode, body)
	}
}

func scoreRound(t *testing.T, ts *httptest.Server, token, code string, roundID, battleID uint) (*http.Response, map[string]any) {
	t.Helper()
	return doRequest(t, ts, http.MethodPost, "/api/battles/score-round", token, map[string]any{
		"room_id":   code,
		"round_id":  roundID,
		"battle_id": battleID,
	})
}

func advanceRound(t *testing.T, ts *httptest.Server, token, code string, battleID, roundID uint) (*http.Response, map[string]any) {
	t.Helper()
	return doRequest(t, ts, http.MethodPost, "/api/battles/advance", token, map[string]any{
		"room_id":   code,
		"battle_id": battleID,
		"round_id":  roundID,
	})
}
