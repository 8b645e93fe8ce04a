package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"focusline/internal/app"
	"focusline/internal/config"
	"focusline/internal/db"
	"focusline/internal/domain"
	"focusline/internal/monitor"
	"focusline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Focusline CLI",
	Long: `Focusline tracks what you work on and turns it into sessions, reports
and suggestions.

- Workspace: the .focusline directory holding the local database.
- Activity: one contiguous stretch in a single application/window.
- Session: a run of activities with no idle gap over the threshold.
- Reports: daily breakdowns, productivity score, hour-by-weekday patterns.
- Suggestions: ranked "what to do next" with accepted/rejected feedback.
- Event log: every start, end and boundary, view with 'fl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FOCUSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default focusline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("local")), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"), "local")
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func monitorCmd() *cobra.Command {
	var replayPath string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the activity monitor",
		Long: `Runs the sampling loop until interrupted. With --replay the samples
come from a JSON-lines file instead of a live signal source; the loop
stops when the file is exhausted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if replayPath == "" {
				return fmt.Errorf("--replay is required; no live sampler is configured on this platform")
			}
			f, err := os.Open(replayPath)
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := app.Open(viper.GetString("workspace"), app.Options{
				Logger:  newLogger(),
				Sampler: monitor.NewReplaySampler(f),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.StartWorkers(ctx)
			a.Monitor.Start(ctx)

			done := make(chan struct{})
			go func() {
				a.Monitor.Wait()
				close(done)
			}()
			select {
			case <-ctx.Done():
			case <-done:
			}
			a.Monitor.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&replayPath, "replay", "", "JSON-lines sample file to replay")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Inspect tracked activities"}

	var start, end, category string
	list := &cobra.Command{
		Use:   "list",
		Short: "List activities by timeframe or category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if category != "" {
					items, err := a.Store.ActivitiesByCategory(ctx, category)
					if err != nil {
						return err
					}
					return printActivities(items)
				}
				from, to, err := parseRange(start, end)
				if err != nil {
					return err
				}
				items, err := a.Store.ActivitiesByTimeframe(ctx, from, to)
				if err != nil {
					return err
				}
				return printActivities(items)
			})
		},
	}
	list.Flags().StringVar(&start, "start", "", "RFC3339 lower bound (default now-24h)")
	list.Flags().StringVar(&end, "end", "", "RFC3339 upper bound (default now)")
	list.Flags().StringVar(&category, "category", "", "exact category filter")
	act.AddCommand(list)

	act.AddCommand(&cobra.Command{
		Use:   "show <activity-id>",
		Short: "Show one activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				found, err := a.Store.GetActivity(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(found)
			})
		},
	})
	return act
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Inspect and close sessions"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Store.RecentSessions(ctx, limit)
				if err != nil {
					return err
				}
				return printSessions(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "max sessions")
	sess.AddCommand(list)

	sess.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				found, err := a.Store.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(found)
			})
		},
	})

	sess.AddCommand(&cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session, computing its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ended, err := a.Sessions.End(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(ended)
			})
		},
	})
	return sess
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Analytics reports"}

	var date string
	daily := &cobra.Command{
		Use:   "daily",
		Short: "Daily breakdown with productivity score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				day := time.Now()
				if date != "" {
					var err error
					if day, err = time.Parse("2006-01-02", date); err != nil {
						return fmt.Errorf("invalid --date, want YYYY-MM-DD")
					}
				}
				report, err := a.Analytics.Daily(ctx, day)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	daily.Flags().StringVar(&date, "date", "", "calendar day YYYY-MM-DD (default today)")
	rep.AddCommand(daily)

	var start, end string
	score := &cobra.Command{
		Use:   "score",
		Short: "Productivity score over a timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				from, to, err := parseRange(start, end)
				if err != nil {
					return err
				}
				value, err := a.Analytics.Score(ctx, from, to)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"start": from, "end": to, "score": value})
			})
		},
	}
	score.Flags().StringVar(&start, "start", "", "RFC3339 lower bound (default now-24h)")
	score.Flags().StringVar(&end, "end", "", "RFC3339 upper bound (default now)")
	rep.AddCommand(score)

	var days int
	patterns := &cobra.Command{
		Use:   "patterns",
		Short: "Hour-by-weekday activity pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cells, err := a.Analytics.Patterns(ctx, days)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cells)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Weekday", "Hour", "Tracked"})
				for _, c := range cells {
					tw.AppendRow(table.Row{c.Weekday.String(), fmt.Sprintf("%02d:00", c.Hour), c.Duration.Round(time.Minute)})
				}
				tw.Render()
				return nil
			})
		},
	}
	patterns.Flags().IntVar(&days, "days", 30, "trailing days to analyze")
	rep.AddCommand(patterns)
	return rep
}

func suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest",
		Short: "Generate ranked task suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Suggestions.Suggest(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("no suggestions available")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rank", "ID", "Suggestion", "Context"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Rank, s.ID, s.Text, s.Context})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func feedbackCmd() *cobra.Command {
	var accept, reject bool
	cmd := &cobra.Command{
		Use:   "feedback <suggestion-id>",
		Short: "Record suggestion feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if accept == reject {
				return fmt.Errorf("exactly one of --accept or --reject is required")
			}
			outcome := domain.OutcomeAccepted
			if reject {
				outcome = domain.OutcomeRejected
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				updated, err := a.Suggestions.Feedback(ctx, args[0], outcome)
				if err != nil {
					return err
				}
				return printJSON(updated)
			})
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", false, "mark the suggestion accepted")
	cmd.Flags().BoolVar(&reject, "reject", false, "mark the suggestion rejected")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event journal"}
	var limit int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Journal.Tail(ctx, limit, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.Type, e.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "max events")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	log.AddCommand(tail)
	return log
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Archive activities past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Archiver.Sweep(ctx)
				if err != nil {
					return err
				}
				if res.Archived == 0 {
					fmt.Println("nothing to archive")
					return nil
				}
				return printJSON(res)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"), app.Options{Logger: newLogger()})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.StartWorkers(ctx)

			secret := os.Getenv("FOCUSLINE_JWT_SECRET")
			if secret == "" {
				secret = a.Config.Server.JWTSecret
			}
			handler, err := server.New(server.Config{
				App:      a,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutCtx)
			}()
			fmt.Printf("Serving Focusline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), app.Options{Logger: newLogger()})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("json") {
		// Keep stdout clean for machine-readable output.
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if end != "" {
		if to, err = time.Parse(time.RFC3339, end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end, want RFC3339")
		}
	}
	if start != "" {
		if from, err = time.Parse(time.RFC3339, start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start, want RFC3339")
		}
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--start must precede --end")
	}
	return from, to, nil
}

func printActivities(items []domain.Activity) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "App", "Title", "Category", "Start", "Duration"})
	for _, a := range items {
		dur := "open"
		if !a.Open() {
			dur = a.Duration().Round(time.Second).String()
		}
		tw.AppendRow(table.Row{a.ID, a.AppName, a.Title, a.Category, a.StartTime.Format(time.RFC3339), dur})
	}
	tw.Render()
	return nil
}

func printSessions(items []domain.Session) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Start", "End", "Activities", "Total"})
	for _, s := range items {
		end := "open"
		if !s.EndTime.IsZero() {
			end = s.EndTime.Format(time.RFC3339)
		}
		tw.AppendRow(table.Row{s.ID, s.StartTime.Format(time.RFC3339), end, len(s.ActivityIDs), s.Summary.TotalDuration.Round(time.Second)})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
