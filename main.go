package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthdash/internal/auth"
	"healthdash/internal/config"
	"healthdash/internal/googlefit"
	"healthdash/internal/logging"
	"healthdash/internal/service"
	"healthdash/internal/store"
	"healthdash/internal/tui"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "healthdash",
		Short:        "Google Fit health dashboard",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newDashboardCommand())
	root.AddCommand(newInitConfigCommand())
	return root
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write an example config file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateExample(); err != nil {
				return fmt.Errorf("creating example config: %w", err)
			}
			configDir, _ := config.GetConfigDir()
			fmt.Printf("Config file:\n  %s/config.json\n\n", configDir)
			fmt.Println("Add your Google OAuth client credentials.")
			fmt.Println("Create them at: https://console.cloud.google.com/apis/credentials")
			return nil
		},
	}
}

func newDashboardCommand() *cobra.Command {
	var userID int64
	var days int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the terminal dashboard for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil || cfg == nil {
				return err
			}
			if userID < 1 {
				return errors.New("--user is required")
			}
			if days == 0 {
				days = cfg.Dashboard.DefaultDays
			}

			// The TUI owns the terminal; only errors are logged, to stderr
			cfg.Logging.Level = "error"
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			app := tui.NewApp(a.dashboard, a.connections, tui.Options{
				UserID:  userID,
				Days:    days,
				MaxDays: cfg.Dashboard.MaxDays,
			})
			p := tea.NewProgram(app, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running TUI: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id whose Google Fit data to show")
	cmd.Flags().IntVar(&days, "days", 0, "number of days to show (default from config)")
	return cmd
}

// loadConfig loads and validates the config. A nil config with a nil
// error means the user was told how to fix it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrNoConfig) {
		fmt.Println("No config file found. Creating example config...")
		if err := config.CreateExample(); err != nil {
			return nil, fmt.Errorf("creating example config: %w", err)
		}
		configDir, _ := config.GetConfigDir()
		fmt.Printf("\nPlease edit the config file at:\n  %s/config.json\n\n", configDir)
		fmt.Println("You need to add your Google OAuth client credentials.")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		configDir, _ := config.GetConfigDir()
		fmt.Printf("Config validation failed: %v\n\n", err)
		fmt.Printf("Please edit the config file at:\n  %s/config.json\n", configDir)
		return nil, nil
	}
	return cfg, nil
}

// app holds the wired services shared by the commands
type app struct {
	logger      *zap.Logger
	store       *store.Store
	dashboard   *service.DashboardService
	connections *service.ConnectionService
}

func newApp(cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	oauthCfg := auth.NewOAuthConfig(auth.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		AuthURL:      cfg.Google.AuthURL,
		TokenURL:     cfg.Google.TokenURL,
	})

	httpClient := googlefit.NewHTTPClient(cfg.ProviderTimeout())
	refresher := auth.NewRefresher(oauthCfg, st, httpClient, logger)
	client := googlefit.NewClient(cfg.Google.APIBaseURL, httpClient, refresher, logger)

	dashboard := service.NewDashboardService(st, client, refresher, service.DashboardOptions{
		MaxDays: cfg.Dashboard.MaxDays,
		Goals: service.Goals{
			Steps:      cfg.Dashboard.GoalSteps,
			SleepHours: cfg.Dashboard.GoalSleepHours,
		},
		Location: loc,
	}, logger)
	connections := service.NewConnectionService(st, oauthCfg, httpClient, logger)

	return &app{
		logger:      logger,
		store:       st,
		dashboard:   dashboard,
		connections: connections,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
