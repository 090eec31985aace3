package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/thumbforge/internal/api"
	"github.com/kalambet/thumbforge/internal/config"
	"github.com/kalambet/thumbforge/internal/maintenance"
	renderpkg "github.com/kalambet/thumbforge/internal/render"
	"github.com/kalambet/thumbforge/internal/storage"
)

// Sandbox renders point at a reserved domain; nothing is uploaded.
const sandboxAssetBase = "https://assets.thumbforge.invalid"

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local sandbox backend (foreground)",
	Long: `Run the local sandbox backend in the foreground.

The sandbox serves the generation and project APIs on 127.0.0.1, renders
queued jobs with placeholder output and prunes old cache entries on the
configured maintenance schedule. With --mcp it also serves the thumbforge
tools over MCP on stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sandbox backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show thumbforge status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

// pidFile records the PID of a running sandbox so `stop` can signal it.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "thumbforge.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (p pidFile) remove() {
	_ = os.Remove(string(p))
}

// alreadyRunning reports an error when something answers on the sandbox
// health endpoint.
func alreadyRunning(port int, pids pidFile) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if pid, err := pids.read(); err == nil {
		return fmt.Errorf("thumbforge is already running (PID %d)", pid)
	}
	return fmt.Errorf("port %d is already serving", port)
}

func runServer(parent context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "thumbforge version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// The sandbox owns the local credential; create one on first run.
	token, err := config.EnsureAPIToken(cfg, config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	cfg.Backend.APIToken = token
	slog.Info("API bearer token available")

	pids := pidFileIn(cfg.Storage.DataDir)
	if err := alreadyRunning(cfg.Server.Port, pids); err != nil {
		return err
	}
	if err := pids.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pids.remove()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	hub := api.NewHub()
	defer hub.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Store:  store,
			Hub:    hub,
			Token:  token,
			Logger: slog.Default(),
		}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	sched, err := maintenance.New(store, maintenance.Config{
		Schedule:    cfg.Maintenance.Schedule,
		CacheMaxAge: cfg.Maintenance.CacheMaxAge,
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			slog.Warn("maintenance did not stop in time", "error", err)
		}
	}()

	worker := renderpkg.NewWorker(store, renderpkg.PlaceholderRenderer{BaseURL: sandboxAssetBase},
		renderpkg.WithStageDelay(cfg.Sandbox.StageDelay))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "thumbforge sandbox listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		a := newClientApp(cfg, store)
		defer a.Close()
		o := a.orchestrator()
		o.Start()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Jobs:     a.poller,
			Projects: o,
			JobLog:   store,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pids := pidFileIn(cfg.Storage.DataDir)
	pid, err := pids.read()
	if err != nil {
		return fmt.Errorf("thumbforge is not running: %w", err)
	}
	// FindProcess always succeeds on Unix; Signal reports a stale PID.
	proc, _ := os.FindProcess(pid)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		pids.remove()
		return fmt.Errorf("stopping PID %d: %w", pid, err)
	}

	printSuccess("Sent stop signal to thumbforge (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(cfg.BaseURL() + "/health")
	if err != nil {
		printStatus("Backend", "unreachable at %s", cfg.BaseURL())
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Backend", "running at %s", cfg.BaseURL())
		} else {
			printStatus("Backend", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Backend.BaseURL == "" {
		printStatus("Mode", "local sandbox")
	} else {
		printStatus("Mode", "remote")
	}
	printStatus("Owner", "%s", cfg.Backend.OwnerID)
	if _, err := cfg.RequireAPIToken(); err != nil {
		printStatus("API token", "missing")
	} else {
		printStatus("API token", "configured")
	}
	printStatus("Cache", "ttl %s, stale-while-revalidate %t", cfg.Cache.TTL, cfg.Cache.StaleWhileRevalidate)

	if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
		if v, err := store.SchemaVersion(); err == nil {
			printStatus("Schema", "v%d", v)
		}
		if recs, err := store.RecentJobRecords(storage.JobRecordFilter{Limit: 100}); err == nil {
			printStatus("Recent jobs", "%s", countLabel(len(recs), 100))
		}
		store.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
