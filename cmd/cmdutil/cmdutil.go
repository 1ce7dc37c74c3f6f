// Package cmdutil holds helpers shared by the cobra commands.
package cmdutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/Alijeyrad/keystone_backend/config"
	"github.com/Alijeyrad/keystone_backend/internal/store/postgres"
	"github.com/Alijeyrad/keystone_backend/pkg/database"
	"github.com/Alijeyrad/keystone_backend/pkg/logs"
)

// LoadConfig reads the file named by the global --config flag and installs
// the configured logger as the slog default.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.ReadConfig(filepath.Dir(cfgPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	slog.SetDefault(logs.New(cfg))
	return cfg, nil
}

// OpenStore connects to the application database. The caller closes the
// returned pool.
func OpenStore(cfg *config.Config) (*postgres.Store, *sqlx.DB, error) {
	db, err := database.NewSQLX(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(db, postgres.Options{
		SerializationRetries: cfg.Database.Migrations.SerializationRetries,
		Logger:               slog.Default(),
	})
	return store, db, nil
}

// PrintJSON writes v to the command's output, indented.
func PrintJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
