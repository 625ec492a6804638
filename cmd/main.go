package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"kaarna/internal/config"
	"kaarna/internal/ics"
	"kaarna/internal/models"
	"kaarna/internal/provider"
	"kaarna/internal/server"
)

func main() {
	app := &cli.App{
		Name:  "kaarna",
		Usage: "Synchronize meetings with linked Google and Microsoft calendars.",
		Commands: []*cli.Command{
			serveCommand(),
			authCommand(),
			syncCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *slog.Logger, *services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	svc, err := newServices(c.Context, logger, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return cfg, logger, svc, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API.",
		Action: func(c *cli.Context) error {
			cfg, logger, svc, err := setup(c)
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := server.New(logger, svc.oauth, svc.reconciler, svc.meetings)
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(cfg.Addr()) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("Shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

var providerFlag = &cli.StringFlag{
	Name:     "provider",
	Usage:    "Calendar provider (google or microsoft).",
	Required: true,
}

var userFlag = &cli.Int64Flag{
	Name:     "user",
	Usage:    "User ID.",
	Required: true,
}

func parseProvider(c *cli.Context) (models.ProviderType, error) {
	t, ok := models.ParseProviderType(strings.ToLower(c.String("provider")))
	if !ok {
		return "", fmt.Errorf("unknown provider '%s'", c.String("provider"))
	}
	return t, nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Print the URL that links a user's calendar.",
		Flags: []cli.Flag{
			providerFlag,
			userFlag,
			&cli.StringFlag{Name: "post-redirect", Value: "/", Usage: "Path to return to after linking."},
		},
		Action: func(c *cli.Context) error {
			t, err := parseProvider(c)
			if err != nil {
				return err
			}
			_, logger, svc, err := setup(c)
			if err != nil {
				return err
			}
			defer svc.Close()

			userID := c.Int64("user")
			state := &provider.State{Reason: provider.ReasonLink, PostRedirect: c.String("post-redirect"), UserID: &userID}
			authURL, err := svc.oauth.AuthorizationURL(c.Context, t, state, true)
			if err != nil {
				return fmt.Errorf("failed to build authorization url: %w", err)
			}
			logger.Info("Starting calendar linking flow.", "provider", t, "userID", userID)
			fmt.Printf("Go to the following link in your browser to link the calendar:\n%v\n", authURL)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile a user's external events for a meeting and print them.",
		Flags: []cli.Flag{
			providerFlag,
			userFlag,
			&cli.Int64Flag{Name: "meeting", Usage: "Meeting ID.", Required: true},
			&cli.StringFlag{Name: "format", Value: "text", Usage: "Output format: text or ics."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds."},
		},
		Action: func(c *cli.Context) error {
			t, err := parseProvider(c)
			if err != nil {
				return err
			}
			format := c.String("format")
			if format != "text" && format != "ics" {
				return fmt.Errorf("unknown format '%s'", format)
			}
			_, logger, svc, err := setup(c)
			if err != nil {
				return err
			}
			defer svc.Close()

			userID, meetingID := c.Int64("user"), c.Int64("meeting")
			run := func(ctx context.Context) error {
				events, err := svc.reconciler.EventsForMeeting(ctx, t, userID, meetingID)
				if err != nil {
					return err
				}
				logger.Info("Sync cycle completed", "provider", t, "meetingID", meetingID, "events", len(events))
				if format == "ics" {
					return ics.Encode(os.Stdout, events, "-//kaarna//EN")
				}
				for _, ev := range events {
					fmt.Printf("%s  %s  %s\n", ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339), ev.Summary)
				}
				return nil
			}

			if c.IsSet("watch") {
				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				return watch(ctx, logger, interval, run)
			}
			logger.Info("Running a single sync cycle.")
			if err := run(c.Context); err != nil {
				return fmt.Errorf("single sync cycle failed: %w", err)
			}
			return nil
		},
	}
}

// watch runs cycle immediately and then on every tick until ctx is done.
func watch(ctx context.Context, logger *slog.Logger, interval time.Duration, cycle func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := cycle(ctx); err != nil {
			logger.Error("Sync cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("Stopping watcher.")
			return nil
		case <-ticker.C:
		}
	}
}
