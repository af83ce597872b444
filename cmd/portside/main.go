package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"portside/internal/config"
	"portside/internal/db"
	"portside/internal/ddp"
	"portside/internal/engine"
	"portside/internal/extract"
	"portside/internal/metrics"
	"portside/internal/migrate"
	"portside/internal/repo"
	"portside/internal/server"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "portside",
	Short: "Portside data donation workflows",
	Long: `Portside runs data donation workflows over platform data export packages.
Participants download their data from a platform (YouTube, TikTok), hand the
ZIP to Portside, review the extracted tables and donate what they consent to.

- Workspace: the .portside directory holding the database and uploaded archives.
- Session: one participant's run through the prompt/validate/consent loop.
- Donation: one consented payload, stored keyed per table.
- Event log: status markers of every session, view with 'portside log tail'.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("PORTSIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(donationCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(versionCmd())
}

func newLogger() *zap.Logger {
	var log *zap.Logger
	var err error
	if viper.GetBool("verbose") {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func platformByName(name string, log *zap.Logger, settings extract.Settings) (extract.Platform, error) {
	switch strings.ToLower(name) {
	case "youtube":
		return extract.YouTube(log, settings), nil
	case "tiktok":
		return extract.TikTok(log, settings), nil
	default:
		return extract.Platform{}, fmt.Errorf("unknown platform %q (youtube, tiktok)", name)
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			log := newLogger()
			defer log.Sync()

			e := engine.New(conn, cfg, workspace, log)
			secret := cfg.Server.TokenSecret
			if env := os.Getenv("PORTSIDE_TOKEN_SECRET"); env != "" {
				secret = env
			}
			metrics.Init()
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					Secret: secret,
					TTL:    time.Duration(cfg.Server.TokenTTL) * time.Second,
				},
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Portside API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func inspectCmd() *cobra.Command {
	var platformName string
	cmd := &cobra.Command{
		Use:   "inspect <archive.zip>",
		Short: "Classify an export archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			log := newLogger()
			defer log.Sync()
			platform, err := platformByName(platformName, log, settingsFrom(cfg))
			if err != nil {
				return err
			}
			c := platform.Validate(args[0])
			out := map[string]any{
				"platform":    platform.Name,
				"status":      c.Status.ID,
				"description": c.Status.Description,
				"recognized":  c.Recognized(),
			}
			if c.Category != nil {
				out["category"] = c.Category.ID
				out["filetype"] = c.Category.Filetype
				out["language"] = c.Category.Language
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Platform", "Status", "Description", "Category"})
			category := ""
			if c.Category != nil {
				category = c.Category.ID
			}
			tw.AppendRow(table.Row{platform.Name, c.Status.ID, c.Status.Description, category})
			tw.Render()
			if c.Status.ID != ddp.StatusValid {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platformName, "platform", "p", "youtube", "platform (youtube, tiktok)")
	return cmd
}

func extractCmd() *cobra.Command {
	var platformName string
	var maxRows int
	cmd := &cobra.Command{
		Use:   "extract <archive.zip>",
		Short: "Extract donation tables from an export archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			log := newLogger()
			defer log.Sync()
			platform, err := platformByName(platformName, log, settingsFrom(cfg))
			if err != nil {
				return err
			}
			c := platform.Validate(args[0])
			if c.Status.ID != ddp.StatusValid {
				return fmt.Errorf("not a valid %s package: %s", platform.Name, c.Status.Description)
			}
			tables, _ := platform.Extract(args[0], c)
			if viper.GetBool("json") {
				return printJSON(tables)
			}
			for _, tbl := range tables {
				fmt.Printf("\n%s (%d rows)\n", tbl.Name, len(tbl.Data.Records))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				header := make(table.Row, len(tbl.Data.Columns))
				for i, col := range tbl.Data.Columns {
					header[i] = col
				}
				tw.AppendHeader(header)
				for i, rec := range tbl.Data.Records {
					if maxRows > 0 && i >= maxRows {
						break
					}
					row := make(table.Row, len(rec))
					for j, v := range rec {
						row[j] = v
					}
					tw.AppendRow(row)
				}
				tw.Render()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platformName, "platform", "p", "youtube", "platform (youtube, tiktok)")
	cmd.Flags().IntVar(&maxRows, "max-rows", 25, "rows to print per table (0 = all)")
	return cmd
}

func dumpCmd() *cobra.Command {
	var maxRows int
	cmd := &cobra.Command{
		Use:   "dump <archive.zip>",
		Short: "Dump all JSON members of an archive as flattened key/value rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Sync()
			frame := extract.DumpJSON(args[0], log)
			if viper.GetBool("json") {
				return printJSON(frame.Maps())
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"File name", "Key", "Value"})
			for i, rec := range frame.Records {
				if maxRows > 0 && i >= maxRows {
					break
				}
				tw.AppendRow(table.Row{rec[0], rec[1], rec[2]})
			}
			tw.Render()
			fmt.Printf("%d rows\n", len(frame.Records))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRows, "max-rows", 100, "rows to print (0 = all)")
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Inspect stored sessions"}
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	return cmd
}

func sessionListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSessions(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "State", "Platform", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Status, s.State, s.Platform, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (active, finished)")
	cmd.Flags().IntVar(&limit, "n", 0, "maximum sessions to list")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	return cmd
}

func donationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "donation", Short: "Inspect stored donations"}
	cmd.AddCommand(donationListCmd())
	return cmd
}

func donationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List donations for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDonations(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Bytes", "Created"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.Key, len(d.Payload), d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, sessionID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, sessionID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Session", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.SessionID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&sessionID, "session", "", "session filter")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("portside", version)
		},
	}
}

// --- helpers ---

func settingsFrom(cfg *config.Config) extract.Settings {
	return extract.Settings{
		ChunkSize:      cfg.Donation.ChunkSize,
		MatchThreshold: cfg.Donation.MatchThreshold,
	}
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
