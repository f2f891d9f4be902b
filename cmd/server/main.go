package main

import (
	"log"
	"net/http"
	"os"

	"prompt-battles/internal/config"
	"prompt-battles/internal/db"
	"prompt-battles/internal/judge"
	"prompt-battles/internal/server"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	conn, err := db.Open()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := db.ConfigurePool(conn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetimeSeconds, cfg.DBConnMaxIdleTimeSeconds); err != nil {
		log.Fatalf("database pool setup failed: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	var scorer server.Judge
	if cfg.GeminiAPIKey != "" {
		client, err := judge.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("gemini client setup failed: %v", err)
		}
		scorer = client
	} else {
		log.Println("GEMINI_API_KEY is not set; score-round will be unavailable")
	}

	addr := ":8080"
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	srv := server.New(conn, cfg, scorer)
	log.Printf("prompt-battles server listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}
