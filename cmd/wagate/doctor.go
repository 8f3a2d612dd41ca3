package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"wagate/internal/config"
	"wagate/internal/plan"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your wagate installation",
		Long: `Verifies that wagate's configuration, database, browser runtime, and
plan catalog are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("wagate Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'wagate init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Data directory exists
			if cfg.General.DataDir != "" {
				if info, err := os.Stat(cfg.General.DataDir); err != nil {
					printFail("Data directory", fmt.Sprintf("not found: %s", cfg.General.DataDir))
					failed++
				} else if !info.IsDir() {
					printFail("Data directory", fmt.Sprintf("not a directory: %s", cfg.General.DataDir))
					failed++
				} else {
					printPass("Data directory", cfg.General.DataDir)
					passed++
				}
			} else {
				printWarn("Data directory", "not configured (using current directory)")
				warned++
			}

			// 4. Database writable
			dbPath := cfg.Store.DBPath
			if dbPath == "" {
				home, _ := os.UserHomeDir()
				dbPath = filepath.Join(home, ".wagate", "wagate.db")
			}
			if err := checkDatabase(dbPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", dbPath)
				passed++
			}

			// 5. Browser runtime
			if cfg.Driver.Mode == "chrome" {
				if path, err := findChrome(); err != nil {
					printFail("Chrome binary", "not found in PATH")
					failed++
				} else {
					printPass("Chrome binary", path)
					passed++
				}
			} else {
				printWarn("Driver", fmt.Sprintf("mode %q does not talk to a real provider", cfg.Driver.Mode))
				warned++
			}

			// 6. Plan catalog parses
			if _, err := plan.NewCatalog(plan.CatalogConfig{
				Path:        cfg.Plans.CatalogPath,
				DefaultPlan: cfg.Plans.DefaultPlan,
			}); err != nil {
				printFail("Plan catalog", err.Error())
				failed++
			} else {
				detail := "builtin plans"
				if cfg.Plans.CatalogPath != "" {
					detail = cfg.Plans.CatalogPath
				}
				printPass("Plan catalog", detail)
				passed++
			}

			// 7. Realtime port
			if cfg.Realtime.Enabled {
				if err := checkPort(cfg.Realtime.Port); err != nil {
					printWarn("Realtime port", fmt.Sprintf("port %d may be in use: %v", cfg.Realtime.Port, err))
					warned++
				} else {
					printPass("Realtime port", fmt.Sprintf(":%d available", cfg.Realtime.Port))
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running wagate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nwagate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! wagate is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func findChrome() (string, error) {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no chrome binary found")
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
