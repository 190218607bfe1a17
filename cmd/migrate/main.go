// This file applies the database schema.
// How to run:
// go run cmd/migrate/main.go          # Apply the schema to the configured database
package main

import (
	"log"

	"github.com/pdfconvert/convertd/internal/config"
	"github.com/pdfconvert/convertd/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// db.New runs the schema migration as part of connecting.
	if _, err := db.New(db.Options{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Schema is up to date")
}
