package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/greenboard/hpcboard/admin/internal/admin"
	"github.com/greenboard/hpcboard/pkg/logger"
	"github.com/greenboard/hpcboard/pkg/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	databaseFlag := flag.String("database", "", "path to the reporting database (or set DATABASE env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Run schema migrations")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show schema migration status")
	addUserFlag := flag.Bool("add-user", false, "Add a user and print their access UUID")
	resetUUIDFlag := flag.Bool("reset-uuid", false, "Rotate a user's access UUID and print the new one")
	listUsersFlag := flag.Bool("list-users", false, "List all users")
	setLastUpdateFlag := flag.Bool("set-last-update", false, "Set the snapshot freshness marker")

	// Command options
	loginFlag := flag.String("login", "", "User login (add-user, reset-uuid)")
	nameFlag := flag.String("name", "", "User display name (add-user)")
	teamsFlag := flag.StringSlice("teams", nil, "User team memberships (add-user)")
	positionFlag := flag.String("position", "", "User position (add-user)")
	sponsorFlag := flag.String("sponsor", "", "Sponsor login for external accounts (add-user)")
	timeFlag := flag.String("time", "", "Freshness timestamp, RFC 3339 (set-last-update, defaults to now)")

	flag.Parse()

	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	database := *databaseFlag
	if database == "" {
		database = os.Getenv("DATABASE")
	}
	if database == "" {
		return fmt.Errorf("database path is required (--database or DATABASE)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := snapshot.NewStore(snapshot.StoreConfig{
		Logger: log,
		Path:   database,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	a := admin.New(log, store.DB())

	switch {
	case *migrateFlag:
		return snapshot.RunMigrations(ctx, log, store.DB())

	case *migrateStatusFlag:
		return snapshot.MigrationStatus(ctx, log, store.DB())

	case *addUserFlag:
		id, err := a.AddUser(ctx, *loginFlag, *nameFlag, *teamsFlag, *positionFlag, *sponsorFlag)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case *resetUUIDFlag:
		if *loginFlag == "" {
			return fmt.Errorf("--login is required with --reset-uuid")
		}
		id, err := a.ResetUUID(ctx, *loginFlag)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case *listUsersFlag:
		users, err := a.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%-16s %-24s teams=%v", u.Login, u.Name, u.Teams)
			if u.Sponsor != "" {
				fmt.Printf(" sponsor=%s", u.Sponsor)
			}
			fmt.Println()
		}
		return nil

	case *setLastUpdateFlag:
		t := time.Now()
		if *timeFlag != "" {
			t, err = time.Parse(time.RFC3339, *timeFlag)
			if err != nil {
				return fmt.Errorf("invalid --time: %w", err)
			}
		}
		return a.SetLastUpdate(ctx, t)

	default:
		flag.Usage()
		return fmt.Errorf("no command given")
	}
}
