package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	ctxlog "github.com/jobukit/jobu/internal/log"
)

func main() {
	root := &cobra.Command{
		Use:   "jobu",
		Short: "Distributed batch job scheduler",
		Long: `jobu schedules cron-defined jobs into a shared database, runs them on
competing workers, and exposes an admin API over the definitions and the
execution history. Without a subcommand it runs dispatcher, worker and
admin API in one process.`,
		RunE:          runAll,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "dispatcher",
			Short: "Run only the cron dispatcher",
			RunE:  runDispatcher,
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Run only the worker pool",
			RunE:  runWorker,
		},
		&cobra.Command{
			Use:   "admin",
			Short: "Run only the admin API",
			RunE:  runAdmin,
		},
		&cobra.Command{
			Use:     "queue-dispatcher",
			Aliases: []string{"queue_dispatcher"},
			Short:   "Run the queue dispatcher, turning Kafka messages into executions",
			RunE:    runQueueDispatcher,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply schema migrations to every configured database",
			RunE:  runMigrate,
		},
	)

	if err := root.Execute(); err != nil {
		log.Fatalf("jobu: %v", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

func setGinMode(env string) {
	if env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
}
