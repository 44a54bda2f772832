package main

import (
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"go-media-download/cmd/media-download/cmd"
)

func main() {
	// Optional .env for secrets (proxy URLs, POT provider endpoint).
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	cmd.Execute()
}
