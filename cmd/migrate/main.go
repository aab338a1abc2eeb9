package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/kevin07696/payout-service/internal/config"
	"github.com/kevin07696/payout-service/internal/db"
)

func main() {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	direction := flags.String("direction", "up", "up, down or version")
	dbURL := flags.String("database-url", "", "postgres URL (defaults to DB_* environment variables)")
	flags.Usage = usage(flags)
	_ = flags.Parse(os.Args[1:])

	_ = godotenv.Load()

	url := *dbURL
	if url == "" {
		cfg := config.LoadFromEnv()
		url = cfg.Database.ConnectionString()
	}

	switch *direction {
	case "up", "down":
		if err := db.Migrate(url, db.Direction(*direction)); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Printf("migrate %s complete", *direction)
	case "version":
		v, dirty, err := db.Version(url)
		if err != nil {
			log.Fatalf("failed to read version: %v", err)
		}
		suffix := ""
		if dirty {
			suffix = " (dirty)"
		}
		log.Printf("schema version %d%s", v, suffix)
	default:
		flags.Usage()
		os.Exit(2)
	}
}

func usage(flags *flag.FlagSet) func() {
	return func() {
		fmt.Fprint(os.Stderr, `Usage: migrate -direction up|down|version [-database-url URL]

Directions:
    up        Apply every pending migration
    down      Roll back the latest migration
    version   Print the applied schema version

`)
		flags.PrintDefaults()
	}
}
