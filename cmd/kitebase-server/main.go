// Package main provides the kitebase API server entry point. One process
// serves any number of tenants, each backed by its own database resolved
// from the DSN template.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kitebase/kitebase/pkg/server"
	"github.com/kitebase/kitebase/pkg/tenancy"
)

// namespacePlaceholder marks where the tenant namespace is substituted into
// the DSN template.
const namespacePlaceholder = "{namespace}"

func main() {
	pflag.String("listen", ":8080", "Address to listen on")
	pflag.String("db-type", "sqlite", "Database type (sqlite, mysql or postgres)")
	pflag.String("db-dsn", "", "DSN template; "+namespacePlaceholder+" is replaced per tenant")
	pflag.String("tenancy-mode", string(tenancy.ModeSingle), "Tenancy mode (single or namespace)")
	pflag.String("config", "", "Path to a config file (optional)")
	pflag.Parse()

	v := viper.New()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	v.SetEnvPrefix("KITEBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if cfgPath := v.GetString("config"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "reading config %s: %v\n", cfgPath, err)
			os.Exit(1)
		}
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	listenAddr := v.GetString("listen")
	dbType := v.GetString("db-type")
	dsnTemplate := v.GetString("db-dsn")
	mode := tenancy.TenancyMode(v.GetString("tenancy-mode"))

	if dsnTemplate == "" {
		log.Error("a DSN template is required (use --db-dsn or KITEBASE_DB_DSN)")
		os.Exit(1)
	}
	if mode == tenancy.ModeNamespace && !strings.Contains(dsnTemplate, namespacePlaceholder) {
		log.Error("namespace tenancy needs " + namespacePlaceholder + " in the DSN template")
		os.Exit(1)
	}

	mgr := tenancy.NewEnvManager(opener(dbType, dsnTemplate))
	srv := server.NewServer(mgr, mode, log)

	log.Info("starting kitebase server",
		"listen", listenAddr,
		"dbType", dbType,
		"tenancyMode", mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Router(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	log.Info("kitebase server stopped")
}

// opener builds the per-namespace database opener for the chosen dialect.
func opener(dbType, dsnTemplate string) tenancy.Opener {
	return func(namespace string) (*gorm.DB, error) {
		dsn := strings.ReplaceAll(dsnTemplate, namespacePlaceholder, namespace)
		cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
		switch dbType {
		case "sqlite":
			return gorm.Open(sqlite.Open(dsn), cfg)
		case "mysql":
			if _, err := mysqldrv.ParseDSN(dsn); err != nil {
				return nil, fmt.Errorf("invalid mysql DSN for namespace %q: %w", namespace, err)
			}
			return gorm.Open(mysql.Open(dsn), cfg)
		case "postgres":
			return gorm.Open(postgres.Open(dsn), cfg)
		default:
			return nil, fmt.Errorf("unknown database type %q (expected sqlite, mysql or postgres)", dbType)
		}
	}
}
