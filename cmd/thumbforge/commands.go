package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/thumbforge/internal/cache"
	"github.com/kalambet/thumbforge/internal/config"
	"github.com/kalambet/thumbforge/internal/genapi"
	"github.com/kalambet/thumbforge/internal/maintenance"
	"github.com/kalambet/thumbforge/internal/storage"
)

// --- generate / merge / enhance ---

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a thumbnail from a prompt",
	Long: `Generate a thumbnail from a prompt and wait for the result.

Examples:
  thumbforge generate "a red fox in the snow, bold title text"
  thumbforge generate --aspect 9:16 --style cinematic "rocket launch at dusk"
  thumbforge generate --project 3f2a... --image https://example.com/face.png "reaction shot"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := startRequestFromFlags(cmd, genapi.KindThumbnail)
		req.Prompt = strings.Join(args, " ")
		return runJob(cmd, req)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge several images into one thumbnail",
	Long: `Merge several images into one thumbnail.

Examples:
  thumbforge merge --image https://example.com/a.png --image https://example.com/b.png
  thumbforge merge --image a.png,b.png,c.png --prompt "versus layout"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := startRequestFromFlags(cmd, genapi.KindSmartMerge)
		if len(req.ImageURLs) < 2 {
			return fmt.Errorf("at least two --image values are required")
		}
		req.Prompt, _ = cmd.Flags().GetString("prompt")
		return runJob(cmd, req)
	},
}

var enhanceCmd = &cobra.Command{
	Use:   "enhance <image-url>",
	Short: "Upscale and enhance an existing image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := startRequestFromFlags(cmd, genapi.KindEnhance)
		req.ImageURLs = []string{args[0]}
		return runJob(cmd, req)
	},
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, mergeCmd, enhanceCmd} {
		c.Flags().String("project", "", "project to file the result under")
		c.Flags().String("aspect", "", "aspect ratio: 16:9, 9:16, 1:1 or 4:3")
	}
	generateCmd.Flags().String("style", "", "style preset")
	generateCmd.Flags().StringSlice("image", nil, "reference image URL (repeatable)")
	mergeCmd.Flags().StringSlice("image", nil, "source image URL (repeatable)")
	mergeCmd.Flags().String("prompt", "", "optional merge instructions")
}

func startRequestFromFlags(cmd *cobra.Command, kind genapi.JobKind) genapi.StartRequest {
	req := genapi.StartRequest{Kind: kind}
	req.ProjectID, _ = cmd.Flags().GetString("project")
	req.AspectRatio, _ = cmd.Flags().GetString("aspect")
	if cmd.Flags().Lookup("style") != nil {
		req.Style, _ = cmd.Flags().GetString("style")
	}
	if cmd.Flags().Lookup("image") != nil {
		req.ImageURLs, _ = cmd.Flags().GetStringSlice("image")
	}
	return req
}

type resultView struct {
	JobID  string        `json:"jobId" yaml:"job_id"`
	Kind   string        `json:"kind" yaml:"kind"`
	URL    string        `json:"url" yaml:"url"`
	Polls  int           `json:"polls" yaml:"polls"`
	Result genapi.Result `json:"result" yaml:"result"`
}

// runJob starts req, prints each stage change and waits for the outcome.
func runJob(cmd *cobra.Command, req genapi.StartRequest) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lastStatus string
	out, err := a.poller.Run(ctx, req, func(status string, progress int) {
		if status == lastStatus {
			return
		}
		lastStatus = status
		printStep("%s (%d%%)", status, progress)
	})
	if err != nil {
		return err
	}
	if !out.Succeeded() {
		if out.Failure.Suggestion != "" {
			printWarning("%s", out.Failure.Suggestion)
		}
		return out.Err()
	}

	view := resultView{
		JobID:  out.JobID,
		Kind:   string(out.Result.Kind()),
		URL:    out.Result.Primary(),
		Polls:  out.Polls,
		Result: out.Result,
	}
	return render(cmd.OutOrStdout(), view, func(w io.Writer) {
		printSuccess("Job %s complete", out.JobID)
		fmt.Fprintln(w, view.URL)
	})
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect generation jobs",
}

type jobRecordView struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      string    `json:"kind" yaml:"kind"`
	Status    string    `json:"status" yaml:"status"`
	Progress  int       `json:"progress" yaml:"progress"`
	Prompt    string    `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ProjectID string    `json:"projectId,omitempty" yaml:"project_id,omitempty"`
	ResultURL string    `json:"resultUrl,omitempty" yaml:"result_url,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently started jobs from the local job log",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		f := storage.JobRecordFilter{}
		f.Kind, _ = cmd.Flags().GetString("kind")
		f.StatusCode, _ = cmd.Flags().GetString("status")
		f.ProjectID, _ = cmd.Flags().GetString("project")
		f.Limit, _ = cmd.Flags().GetInt("limit")
		f.StatusCode = strings.ToUpper(f.StatusCode)

		recs, err := store.RecentJobRecords(f)
		if err != nil {
			return fmt.Errorf("listing jobs: %w", err)
		}

		views := make([]jobRecordView, len(recs))
		for i, r := range recs {
			views[i] = jobRecordView{
				ID:        r.ID,
				Kind:      r.Kind,
				Status:    r.StatusCode,
				Progress:  r.Progress,
				Prompt:    r.Prompt,
				ProjectID: r.ProjectID,
				ResultURL: r.ResultURL,
				Error:     r.Error,
				CreatedAt: r.CreatedAt,
			}
		}
		return render(cmd.OutOrStdout(), views, func(w io.Writer) {
			if len(views) == 0 {
				fmt.Fprintln(w, "No jobs found.")
				return
			}
			for _, v := range views {
				detail := v.ResultURL
				if v.Error != "" {
					detail = v.Error
				}
				fmt.Fprintf(w, "%s  %-11s %-10s %3d%%  %s\n",
					colorize(colorCyan, shortID(v.ID)),
					v.Kind,
					v.Status,
					v.Progress,
					truncate(detail, 80),
				)
			}
		})
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Fetch the current backend status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.gen.PollJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), st, func(w io.Writer) {
			fmt.Fprintf(w, "%s  %s  %d%%  %s\n", colorize(colorBold, string(st.StatusCode)), args[0], st.Progress, st.Status)
			if st.IsFailed {
				fmt.Fprintf(w, "  error: %s\n", st.Error)
				if st.ErrorDetails != nil && st.ErrorDetails.Suggestion != "" {
					fmt.Fprintf(w, "  suggestion: %s\n", st.ErrorDetails.Suggestion)
				}
			}
		})
	},
}

func init() {
	jobsListCmd.Flags().String("kind", "", "filter by job kind")
	jobsListCmd.Flags().String("status", "", "filter by status code, e.g. COMPLETE")
	jobsListCmd.Flags().String("project", "", "filter by project id")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// openStore loads the configuration and opens local storage without
// requiring an API token.
var openStore = func() (config.Config, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	setupLogging(cfg.Log.Level)
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("opening storage: %w", err)
	}
	return cfg, store, nil
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local cache and job history",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache entries and old job history now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		mcfg := maintenance.DefaultConfig()
		mcfg.Schedule = cfg.Maintenance.Schedule
		mcfg.CacheMaxAge = cfg.Maintenance.CacheMaxAge
		sched, err := maintenance.New(store, mcfg)
		if err != nil {
			return err
		}

		var cleared int64
		if all, _ := cmd.Flags().GetBool("all"); all {
			// Timestamps have second precision; a cutoff in the future
			// covers entries written this second.
			if cleared, err = store.PurgeKV(cache.Prefix, time.Now().Add(time.Minute)); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
		}

		report, err := sched.RunOnce(cmd.Context())
		report.CacheEntries += cleared
		if rerr := render(cmd.OutOrStdout(), report, func(io.Writer) {
			printStatus("Cache entries", "%d removed", report.CacheEntries)
			printStatus("Job log", "%d removed", report.JobRecords)
			printStatus("Render queue", "%d removed", report.QueuedJobs)
		}); rerr != nil {
			return rerr
		}
		return err
	},
}

func init() {
	cachePruneCmd.Flags().Bool("all", false, "delete every cache entry regardless of age")
	cacheCmd.AddCommand(cachePruneCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		return render(cmd.OutOrStdout(), keys, func(w io.Writer) {
			for _, k := range keys {
				fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
			}
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:       "unset <key>",
	Short:     "Remove a configuration value so its default applies",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}

// waitTimeout bounds how long one-shot project commands wait for the live
// feed.
var waitTimeout = 10 * time.Second

func withWaitTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, waitTimeout)
}
