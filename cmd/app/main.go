package main

import (
	"log"

	"tts-batch/internal/bootstrap"
)

func main() {
	app, err := bootstrap.New()
	if err != nil {
		log.Fatalf("Failed to initialize desktop app: %v", err)
	}

	log.Printf("[BATCH] Synthesis API: %s", app.Settings.APIBaseURL)
	if err := app.Run(); err != nil {
		log.Fatalf("Failed to run desktop app: %v", err)
	}
}
