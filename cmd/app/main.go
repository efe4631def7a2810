package main

import (
	"context"
	"flag"
	"log"
	"os"

	"PatternMemory/internal/di"
	"PatternMemory/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("env=%s memory_backend=%s kafka=%t clickhouse=%t", cfg.Environment, cfg.Memory.Backend, cfg.Kafka.Enabled, cfg.ClickHouse.Enabled)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT/SIGTERM
	err = app.Run(context.Background())
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
