package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ariefcatur/go-preorders/internal/config"
	"github.com/ariefcatur/go-preorders/internal/logging"
	"github.com/ariefcatur/go-preorders/internal/postgres"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [up|down]\n")
	}
	flag.Parse()
	direction := "up"
	if flag.NArg() > 0 {
		direction = flag.Arg(0)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 1)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	applied, err := postgres.Migrate(ctx, db, direction)
	if err != nil {
		log.Fatal("migrate", zap.String("direction", direction), zap.Error(err))
	}
	log.Info("migrations applied", zap.String("direction", direction), zap.Strings("files", applied))
}
