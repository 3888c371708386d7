package main

import (
	"context"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/repository"
	"github.com/noah-isme/trn-registry-api/internal/service"
	"github.com/noah-isme/trn-registry-api/pkg/config"
	"github.com/noah-isme/trn-registry-api/pkg/database"
	"github.com/noah-isme/trn-registry-api/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "trnctl",
	Short:             "trnctl administers the TRN registry",
	Long:              "trnctl manages identifier ranges and issues TRN tokens and API credentials.",
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
	SilenceUsage:      true,
}

var (
	actor string

	cfg  *config.Config
	logr *zap.Logger
	db   *sqlx.DB
)

// setup loads config and opens the database for commands that need it.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	logr, err = logger.New(cfg)
	if err != nil {
		return err
	}
	if cmd.Annotations["offline"] == "true" {
		return nil
	}
	db, err = database.NewPostgres(cmd.Context(), cfg.Database)
	return err
}

func teardown(cmd *cobra.Command, args []string) {
	if db != nil {
		_ = db.Close()
	}
	if logr != nil {
		_ = logr.Sync()
	}
}

func identifierService() *service.IdentifierService {
	return service.NewIdentifierService(
		repository.NewIdentifierRangeRepository(db),
		repository.NewTxManager(db),
		db,
		logr.Named("identifiers"),
		service.WithLowWatermark(cfg.Identifiers.LowWatermark),
		service.WithIdentifierAudit(repository.NewAuditRepository(db)),
	)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&actor, "actor", os.Getenv("USER"), "operator recorded in the audit log")
	rootCmd.AddCommand(rangesCmd, tokensCmd, authCmd, historyCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
