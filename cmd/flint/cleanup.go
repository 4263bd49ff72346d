package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/web/repository"
	"github.com/foxzi/flint/internal/web/server"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up expired data (shared results, login sessions, visitor sessions, audit logs)",
	RunE:  runCleanup,
}

var (
	cleanupAuditDays int
	cleanupDryRun    bool
)

func init() {
	cleanupCmd.Flags().IntVar(&cleanupAuditDays, "audit-days", 180, "Delete audit log entries older than N days")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without actually deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no data will be deleted")
		fmt.Println()
	}

	shared := repository.NewSharedResultRepository(database.DB)
	count, err := shared.CountExpired()
	if err != nil {
		return fmt.Errorf("failed to count shared results: %w", err)
	}
	fmt.Printf("Expired shared results: %d\n", count)
	if !cleanupDryRun && count > 0 {
		deleted, err := shared.DeleteExpired()
		if err != nil {
			return fmt.Errorf("failed to delete shared results: %w", err)
		}
		fmt.Printf("  Deleted: %d\n", deleted)
	}

	users := repository.NewUserRepository(database.DB)
	count, err = users.CountExpiredSessions()
	if err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}
	fmt.Printf("Expired login sessions: %d\n", count)
	if !cleanupDryRun && count > 0 {
		deleted, err := users.DeleteExpiredSessions()
		if err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
		fmt.Printf("  Deleted: %d\n", deleted)
	}

	cutoff := time.Now().AddDate(0, 0, -cleanupAuditDays)
	var auditCount int
	if err := database.QueryRow("SELECT COUNT(*) FROM audit_log WHERE created_at < ?", cutoff.UTC()).Scan(&auditCount); err != nil {
		return fmt.Errorf("failed to count audit logs: %w", err)
	}
	fmt.Printf("Audit log entries older than %d days: %d\n", cleanupAuditDays, auditCount)
	if !cleanupDryRun && auditCount > 0 {
		deleted, err := repository.NewAuditRepository(database.DB).DeleteBefore(cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete audit logs: %w", err)
		}
		fmt.Printf("  Deleted: %d\n", deleted)
	}

	// bolt holds an exclusive lock, so this only works while the server is stopped
	if !cleanupDryRun && cfg.Cache.Backend == "bolt" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		store, err := server.OpenStore(ctx, cfg.Cache)
		if err != nil {
			fmt.Printf("Visitor sessions: skipped (%v)\n", err)
		} else {
			defer store.Close()
			if purger, ok := store.(kv.Purger); ok {
				purged, err := purger.Purge(ctx)
				if err != nil {
					return fmt.Errorf("failed to purge visitor sessions: %w", err)
				}
				fmt.Printf("Expired visitor sessions purged: %d\n", purged)
			}
		}
	}

	if !cleanupDryRun {
		fmt.Println("\nCleanup completed")
	}
	return nil
}
