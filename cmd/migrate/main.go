package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "one of up, down, status, version, create, validate")
	dir := flag.String("dir", migrate.DefaultDir, "directory holding goose migrations")
	name := flag.String("name", "", "name for -cmd=create")
	version := flag.String("version", "", "target version for -cmd=version (YYYYMMDDHHMMSS)")
	flag.Parse()

	_ = godotenv.Load()

	// minimal logger until config is loaded
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := context.Background()

	cfg, err := config.Load()
	mustBoot(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})
	logg.Info(ctx, "migrate invoked")

	// create and validate work on the migrations directory alone, no DB.
	switch *cmd {
	case "create":
		if *name == "" {
			fatalf("-cmd=create needs -name")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fatalf("create migration: %v", err)
		}
		fmt.Println("new migration at", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			fatalf("validate migrations: %v", err)
		}
		fmt.Println("migrations look valid")
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	mustBoot(ctx, logg, "postgres", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	mustBoot(ctx, logg, "sql handle", err)

	switch *cmd {
	case "up", "down", "status":
		if err := migrate.Run(ctx, sqlDB, *dir, *cmd); err != nil {
			fatalf("goose %s failed: %v", *cmd, err)
		}
	case "version":
		if *version == "" {
			fatalf("-cmd=version needs -version")
		}
		if err := migrate.MigrateToVersion(ctx, sqlDB, *dir, *version); err != nil {
			fatalf("goose version migrate failed: %v", err)
		}
	default:
		fatalf("unsupported -cmd %q", *cmd)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func mustBoot(ctx context.Context, logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "boot failed: "+what, err)
	os.Exit(1)
}
