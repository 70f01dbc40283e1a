package main

import (
	"log"

	"github.com/joho/godotenv"

	corecmd "assignbot/core/cmd"
	"assignbot/internal/app"
)

func main() {
	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return app.Load(path)
		},
		Bootstrap: func(cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			return app.Bootstrap(cfg.(*app.Config))
		},
	})
	if err != nil {
		log.Fatalf("assignbot: %v", err)
	}
}
