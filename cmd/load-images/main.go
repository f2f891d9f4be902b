package main

import (
	"encoding/csv"
	"flag"
	"log"
	"os"
	"strings"

	"prompt-battles/internal/config"
	"prompt-battles/internal/db"
)

func main() {
	filePath := flag.String("file", "images.csv", "path to images csv")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}

	conn, err := db.Open()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	urls, err := readImageURLs(*filePath)
	if err != nil {
		log.Fatalf("failed to read images: %v", err)
	}

	inserted := 0
	for _, url := range urls {
		entry := db.Image{URL: url}
		if err := conn.FirstOrCreate(&entry, db.Image{URL: url}).Error; err != nil {
			log.Fatalf("failed to upsert image: %v", err)
		}
		inserted++
	}

	log.Printf("loaded %d images", inserted)
}

func readImageURLs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var urls []string
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) < 1 {
			continue
		}
		url := strings.TrimSpace(row[0])
		if url == "" {
			continue
		}
		urls = append(urls, url)
	}
	return urls, nil
}
