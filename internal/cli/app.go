package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/core/services"
	"github.com/storyreel/jobsync/internal/infrastructure/db"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"github.com/storyreel/jobsync/internal/infrastructure/status"
	"github.com/storyreel/jobsync/internal/infrastructure/stream"
	"gorm.io/gorm"
)

// app holds everything a command needs, wired from config.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	client   *status.Client
	runs     ports.JobRunRepository
	recorder *services.RunRecorder
	database *gorm.DB
	output   string
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logger.Level = level
	}
	output, _ := cmd.Flags().GetString("output")
	if output != OutputFormatText && output != OutputFormatJSON {
		return nil, fmt.Errorf("unsupported output format %q", output)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	client, err := status.NewClient(status.ClientConfig{
		API:             cfg.API,
		RequestIDHeader: cfg.Features.RequestIDHeader,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, client: client, output: output}
	if cfg.Database.Enabled {
		database, err := db.NewPostgresConnection(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(database); err != nil {
			_ = db.Close(database)
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.database = database
		a.runs = db.NewJobRunRepository(database, log)
	} else {
		a.runs = db.NewJobRunRepoStub(log)
	}
	return a, nil
}

// tracker builds a job tracker whose terminal effects are recorded and
// then reported on the command's output.
func (a *app) tracker(cmd *cobra.Command, pollOnly bool) (*services.JobTracker, error) {
	effects := newConsoleEffects(cmd.OutOrStdout(), a.output)
	a.recorder = services.NewRunRecorder(a.runs, effects, a.log)

	cfg := services.JobTrackerConfig{
		Status:   a.client,
		Effects:  a.recorder,
		Logger:   a.log,
		Tracking: a.cfg.Tracking,
	}
	if !pollOnly {
		dialer, err := stream.NewDialer(stream.DialerConfig{
			Stream:          a.cfg.Stream,
			Token:           a.cfg.API.Token,
			RequestIDHeader: a.cfg.Features.RequestIDHeader,
			Logger:          a.log,
		})
		if err != nil {
			return nil, err
		}
		cfg.Dialer = dialer
	}
	return services.NewJobTracker(cfg)
}

func (a *app) Close() {
	if a.database != nil {
		if err := db.Close(a.database); err != nil {
			a.log.Warnw("database_close_failed", "error", err)
		}
	}
	_ = a.log.Sync()
}
