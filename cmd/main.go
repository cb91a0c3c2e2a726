package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"notionflow/internal/google"
	"notionflow/internal/models"
	"notionflow/internal/store"
	"notionflow/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "notionflow",
		Usage: "Aggregate Notion, Google and Apple calendar events into one calendar.",
		Commands: []*cli.Command{
			connectCommand(),
			authGoogleCommand(),
			calendarsCommand(),
			syncCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func openStore() (*store.PostgresStore, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return store.NewPostgresStore(dsn)
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Store the credentials for a platform connection.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "User id the connection belongs to."},
			&cli.StringFlag{Name: "platform", Required: true, Usage: "One of: notion, apple."},
			&cli.StringFlag{Name: "token", Usage: "API token (notion)."},
			&cli.StringFlag{Name: "username", Usage: "Account name (apple)."},
			&cli.StringFlag{Name: "password", Usage: "App-specific password (apple)."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			platform := models.Platform(c.String("platform"))

			secrets := map[string]string{}
			switch platform {
			case models.PlatformNotion:
				if c.String("token") == "" {
					return fmt.Errorf("--token is required for notion")
				}
				secrets["token"] = c.String("token")
			case models.PlatformApple:
				if c.String("username") == "" || c.String("password") == "" {
					return fmt.Errorf("--username and --password are required for apple")
				}
				secrets["username"] = c.String("username")
				secrets["password"] = c.String("password")
			case models.PlatformGoogle:
				return fmt.Errorf("use the auth-google command for google")
			default:
				return fmt.Errorf("unknown platform %q", platform)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cred := &models.SyncCredential{
				UserID:   c.String("user"),
				Platform: platform,
				Secrets:  secrets,
				Enabled:  true,
			}
			if err := st.SaveCredential(c.Context, cred); err != nil {
				return fmt.Errorf("failed to save credential: %w", err)
			}
			logger.Info("Connection stored.", "user", cred.UserID, "platform", platform)
			return nil
		},
	}
}

func authGoogleCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth-google",
		Usage: "Authenticate a Google account and store the token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "User id the connection belongs to."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			config := google.OAuthConfig(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if config.ClientID == "" || config.ClientSecret == "" {
				return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
			}

			authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.ExchangeAuthCode(c.Context, config, authCode)
			if err != nil {
				return err
			}
			tokenJSON, err := google.EncodeToken(token)
			if err != nil {
				return err
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cred := &models.SyncCredential{
				UserID:   c.String("user"),
				Platform: models.PlatformGoogle,
				Secrets:  map[string]string{"token": tokenJSON},
				Enabled:  true,
			}
			if err := st.SaveCredential(c.Context, cred); err != nil {
				return fmt.Errorf("failed to save credential: %w", err)
			}
			logger.Info("Successfully authenticated and stored token.", "user", cred.UserID)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List a user's calendars, or create one with --create.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "create", Usage: "Create an active calendar with this name."},
		},
		Action: func(c *cli.Context) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if name := c.String("create"); name != "" {
				cal := models.Calendar{UserID: c.String("user"), Name: name, Active: true}
				if err := st.CreateCalendar(c.Context, cal); err != nil {
					return fmt.Errorf("failed to create calendar: %w", err)
				}
				fmt.Printf("Created calendar %q\n", name)
				return nil
			}

			calendars, err := st.ActiveCalendars(c.Context, c.String("user"))
			if err != nil {
				return err
			}
			if len(calendars) == 0 {
				fmt.Println("No active calendars. Create one with --create.")
				return nil
			}
			for _, cal := range calendars {
				fmt.Printf("%s  %s\n", cal.ID, cal.Name)
			}
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the calendar synchronization process.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "User id to sync for."},
			&cli.StringFlag{Name: "platform", Required: true, Usage: "One of: notion, google, apple."},
			&cli.StringFlag{Name: "calendar", Usage: "Target calendar id. Defaults to the first active calendar."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Usage: "Run sync every N seconds instead of once."},
		},
		Action: func(c *cli.Context) error {
			logLevel := os.Getenv("LOG_LEVEL")
			if logLevel == "" {
				logLevel = "info"
			}
			logger := setupLogger(logLevel)

			platform := models.Platform(c.String("platform"))
			if !platform.Valid() {
				return fmt.Errorf("unknown platform %q", platform)
			}
			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			registry := syncer.NewRegistry()
			_ = registry.Register(models.PlatformNotion, syncer.NewNotionFactory())
			_ = registry.Register(models.PlatformApple, syncer.NewAppleFactory())
			_ = registry.Register(models.PlatformGoogle,
				syncer.NewGoogleFactory(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET")))

			service := syncer.NewService(syncer.Options{
				Store:    st,
				Registry: registry,
				Logger:   logger,
				DryRun:   c.Bool("dry-run"),
			})
			defer service.Wait()

			runOnce := func() {
				result := service.SyncToCalendar(c.Context, c.String("user"), platform, c.String("calendar"))
				if !result.Success {
					logger.Error("Sync failed", "error", result.Error, "duration", result.Duration)
					return
				}
				logger.Info("Sync finished.",
					"synced", result.SyncedEvents,
					"total", result.TotalEvents,
					"calendar", result.CalendarID,
					"duration", result.Duration)
			}

			if c.IsSet("watch") {
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for ; true; <-ticker.C {
					runOnce()
				}
				return nil
			}

			logger.Info("Running a single sync cycle.")
			runOnce()
			return nil
		},
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
