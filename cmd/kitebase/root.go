package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/tenancy"
)

var (
	dbType    string
	dbDSN     string
	actAs     string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "kitebase",
	Short: "CLI for a kitebase tenant database",
	Long: `kitebase manages one tenant's schema, records and sharing grants by
talking directly to the tenant database.

Schema commands (type, field) mutate the metadata catalog and the physical
record tables together. The query command compiles and runs DAL text under
the acting principal's row visibility.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbType, "db-type", "sqlite", "Database type: sqlite, mysql or postgres")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "Database connection string (or KITEBASE_DB_DSN)")
	rootCmd.PersistentFlags().StringVar(&actAs, "as", "", "Acting principal identifier (empty acts in system scope)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table or json")

	rootCmd.AddCommand(typeCmd)
	rootCmd.AddCommand(fieldCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(unshareCmd)
}

// principal returns the acting principal identifier.
func principal() kid.KID {
	return kid.KID(actAs)
}

// newEnv opens the tenant database and wires the full service stack.
func newEnv() (*tenancy.Env, error) {
	dsn := dbDSN
	if dsn == "" {
		dsn = os.Getenv("KITEBASE_DB_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("a database DSN is required (use --db-dsn or KITEBASE_DB_DSN)")
	}
	mgr := tenancy.NewEnvManager(func(string) (*gorm.DB, error) {
		cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
		switch strings.ToLower(dbType) {
		case "sqlite":
			return gorm.Open(sqlite.Open(dsn), cfg)
		case "mysql":
			return gorm.Open(mysql.Open(dsn), cfg)
		case "postgres":
			return gorm.Open(postgres.Open(dsn), cfg)
		default:
			return nil, fmt.Errorf("unknown database type %q", dbType)
		}
	})
	return mgr.Env("default")
}
