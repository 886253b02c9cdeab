package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"messenger-console/cache"
	"messenger-console/config"
	"messenger-console/db"
	"messenger-console/models"
	"messenger-console/pkg/auth"
	"messenger-console/pkg/meta"
	"messenger-console/services"
)

// openDB loads configuration and returns a migrated connection.
func openDB() (*config.Config, *gorm.DB, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	gdb, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		sqlDB.Close()
		return nil, nil, nil, err
	}
	return cfg, gdb, func() { sqlDB.Close() }, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the schema and seed the default admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		created, err := db.SeedAdmin(cmd.Context(), db.NewUserRepository(gdb), cfg.Auth.DefaultAdminUser, cfg.Auth.DefaultAdminPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (admin seeded: %v)\n", created)
		return nil
	},
}

var createUserOpts struct {
	username string
	password string
	role     string
	pages    []string
}

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a console user and optionally assign pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		o := createUserOpts
		if o.role != models.RoleAdmin && o.role != models.RoleAgent {
			return fmt.Errorf("role must be %q or %q", models.RoleAdmin, models.RoleAgent)
		}
		if len(o.password) < 6 {
			return fmt.Errorf("password must be at least 6 characters")
		}

		_, gdb, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		hash, err := auth.HashPassword(o.password)
		if err != nil {
			return err
		}
		users := db.NewUserRepository(gdb)
		user, err := users.Create(cmd.Context(), o.username, hash, o.role)
		if err != nil {
			return fmt.Errorf("create user %s: %w", o.username, err)
		}
		if len(o.pages) > 0 {
			if err := users.ReplaceAssignments(cmd.Context(), user.ID, o.pages); err != nil {
				return fmt.Errorf("assign pages: %w", err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (id %d)\n", user.Role, user.Username, user.ID)
		return nil
	},
}

var syncPagesToken string

var syncPagesCmd = &cobra.Command{
	Use:   "sync-pages",
	Short: "Import the pages a Facebook user token manages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		token := syncPagesToken
		if token == "" {
			token = cfg.Meta.UserToken
		}
		if token == "" {
			return fmt.Errorf("no user token: pass --token or set FACEBOOK_USER_TOKEN")
		}
		pages := db.NewPageRepository(gdb)
		n, err := services.SyncPages(cmd.Context(), meta.NewClient(cfg.Meta.GraphURL, nil), pages, services.NewPageCredentials(pages, nil), token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d pages\n", n)
		return nil
	},
}

var refreshLimit int

var refreshProfilesCmd = &cobra.Command{
	Use:   "refresh-profiles",
	Short: "Retry profile lookups for customers still shown with a placeholder name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		ctx := cmd.Context()
		profiles := cache.NewProfileCache(ctx, cfg.Redis)
		defer profiles.Close()

		pages := db.NewPageRepository(gdb)
		ledger := db.NewLedger(gdb)
		resolver := services.NewIdentityResolver(db.NewCustomerRepository(gdb), ledger, meta.NewClient(cfg.Meta.GraphURL, nil), profiles)
		n, err := resolver.RefreshPlaceholders(ctx, services.NewPageCredentials(pages, nil), refreshLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resolved %d customers\n", n)
		return nil
	},
}

var archiveDays int

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move old messages to the archive table once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		days := archiveDays
		if days <= 0 {
			days = cfg.Archive.Days
		}
		archiver, err := services.NewArchiver(db.NewLedger(gdb), cfg.Archive.Cron, days)
		if err != nil {
			return err
		}
		moved, err := archiver.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived %d messages\n", moved)
		return nil
	},
}

func init() {
	f := createUserCmd.Flags()
	f.StringVar(&createUserOpts.username, "username", "", "login name")
	f.StringVar(&createUserOpts.password, "password", "", "initial password")
	f.StringVar(&createUserOpts.role, "role", models.RoleAgent, "admin or agent")
	f.StringSliceVar(&createUserOpts.pages, "page", nil, "page id to assign (repeatable)")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("password")

	syncPagesCmd.Flags().StringVar(&syncPagesToken, "token", "", "Facebook user access token (defaults to FACEBOOK_USER_TOKEN)")
	refreshProfilesCmd.Flags().IntVar(&refreshLimit, "limit", 200, "maximum customers to look up")
	archiveCmd.Flags().IntVar(&archiveDays, "days", 0, "archive messages older than this many days (defaults to ARCHIVE_DAYS)")
}
