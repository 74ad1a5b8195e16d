package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Spatial-NVR/streamgrid/internal/config"
	"github.com/Spatial-NVR/streamgrid/internal/database"
	"github.com/Spatial-NVR/streamgrid/internal/revisions"
)

func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:   "streamgrid",
		Short: "Multi-camera stream grid server",
		Long: `Serves the camera grid dashboard API: live streams through go2rtc,
layouts, motion alerts and staged configuration edits.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(resolveConfigPath(configFlag))
		},
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default is $CONFIG_PATH or $DATA_PATH/config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the grid server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(resolveConfigPath(configFlag))
		},
	})
	root.AddCommand(newRevisionsCmd(&configFlag))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

func newRevisionsCmd(configFlag *string) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "revisions",
		Short: "Inspect committed grid configurations",
	}
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent revisions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRevisions(resolveConfigPath(*configFlag), func(ctx context.Context, repo *revisions.Repository) error {
				revs, err := repo.List(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), revs)
				}
				writeRevisionTable(cmd.OutOrStdout(), revs)
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of revisions")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one revision's snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRevisions(resolveConfigPath(*configFlag), func(ctx context.Context, repo *revisions.Repository) error {
				rev, err := repo.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rev)
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// withRevisions opens the configured revision log read-only and runs fn on
// it, so it is safe next to a running server
func withRevisions(configPath string, fn func(context.Context, *revisions.Repository) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dbCfg := database.DefaultConfig(cfg.DatabasePath())
	dbCfg.ReadOnly = true
	db, err := database.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open revision log: %w", err)
	}
	defer db.Close()

	return fn(context.Background(), revisions.NewRepository(db, revisions.DefaultKeep))
}

func writeRevisionTable(out io.Writer, revs []revisions.Revision) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tTITLE\tLAYOUT\tCAMERAS\tCREATED")
	for _, r := range revs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.Source,
			r.Title,
			r.Layout,
			r.CameraCount,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolveConfigPath prefers the flag, then CONFIG_PATH, then DATA_PATH
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	dataPath := getEnv("DATA_PATH", defaultDataPath)
	return getEnv("CONFIG_PATH", filepath.Join(dataPath, "config.yaml"))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
