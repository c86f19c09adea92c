package main

import (
	"flag"
	"log"
	"os"

	"InferCore/internal/di"
	"InferCore/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s tiers=%d kafka=%v clickhouse=%v feed=%v",
		cfg.Environment, len(cfg.Router.Tiers), cfg.Kafka.Enabled, cfg.ClickHouse.Enabled, cfg.Feed.Enabled)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
