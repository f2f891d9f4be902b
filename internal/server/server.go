package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"prompt-battles/internal/config"
	"prompt-battles/internal/judge"

	"gorm.io/gorm"
)

// Judge is the external scoring authority. The Gemini client satisfies it;
// tests substitute a stub.
type Judge interface {
	ScoreRound(ctx context.Context, imageURL string, entries []judge.Entry) ([]judge.Evaluation, error)
}

type Server struct {
	db       *gorm.DB
	cfg      config.Config
	judge    Judge
	hub      *wsHub
	timersMu sync.Mutex
	timers   map[uint]*time.Timer
}

func New(conn *gorm.DB, cfg config.Config, j Judge) *Server {
	return &Server{
		db:     conn,
		cfg:    cfg,
		judge:  j,
		hub:    newWSHub(),
		timers: make(map[uint]*time.Timer),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{code}", s.handleGetRoom)
	mux.HandleFunc("POST /api/rooms/{code}/join", s.handleJoinRoom)
	mux.HandleFunc("POST /api/rooms/{code}/ready", s.handleReady)
	mux.HandleFunc("POST /api/rooms/{code}/settings", s.handleUpdateSettings)
	mux.HandleFunc("POST /api/rooms/{code}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/rooms/{code}/reset", s.handleResetRoom)
	mux.HandleFunc("POST /api/battles/start", s.handleStartBattle)
	mux.HandleFunc("POST /api/battles/prompts", s.handleSubmitPrompt)
	mux.HandleFunc("POST /api/battles/score-round", s.handleScoreRound)
	mux.HandleFunc("POST /api/battles/advance", s.handleAdvanceRound)
	mux.HandleFunc("GET /ws/rooms/{code}", s.handleWebsocket)
	return mux
}
