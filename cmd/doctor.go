package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/flowgram/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("flowgram doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Print("  Telegram: ")
	if cfg.Telegram.Token != "" {
		fmt.Println("token configured")
	} else {
		fmt.Println("no token (set FLOWGRAM_TELEGRAM_TOKEN)")
	}

	fmt.Printf("  Sessions: %s", cfg.Sessions.Backend)
	if cfg.Sessions.Backend == "sqlite" {
		fmt.Printf(" (%s)", cfg.SessionsPath())
	}
	fmt.Println()

	fmt.Print("  Database: ")
	switch {
	case cfg.Database.PostgresDSN == "":
		fmt.Println("not configured (answers will not be persisted)")
	default:
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			fmt.Printf("open failed: %s\n", err)
			return
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			fmt.Printf("unreachable: %s\n", err)
			return
		}
		fmt.Println("reachable")

		for _, table := range []string{"users", "step_states", "form_entries"} {
			var exists bool
			err := db.QueryRow(
				`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
				table,
			).Scan(&exists)
			switch {
			case err != nil:
				fmt.Printf("    %-13s check failed: %s\n", table+":", err)
			case exists:
				fmt.Printf("    %-13s OK\n", table+":")
			default:
				fmt.Printf("    %-13s MISSING (run: flowgram migrate up, or flowgram schema | psql)\n", table+":")
			}
		}
	}

	fmt.Print("  Telemetry: ")
	if cfg.Telemetry.Enabled {
		fmt.Printf("enabled (%s)\n", cfg.Telemetry.Endpoint)
	} else {
		fmt.Println("disabled")
	}
}
