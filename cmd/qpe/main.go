// Package main is the CLI entry point for qpe — an interactive
// question-paper engine that ingests an XML question paper, builds a
// navigable document tree, and resolves natural-language utterances
// ("next question", "mark this", "how many have I skipped") against it
// via an external NLU endpoint.
//
// Architecture overview:
//
//	client --GET /{text}--> qpe engine --GET LU_API_URL--> NLU service
//	                            |
//	                            +-- decode LUIS-shaped JSON into an Intent
//	                            +-- resolve Intent against the shared paper
//	                            +-- audit log (hash-chained)
//	                            +-- respond with the resolved node/result
//
// CLI commands (cobra):
//
//	qpe serve            - Start the engine (foreground or daemon)
//	qpe stop             - Stop the engine
//	qpe status           - Show engine status
//	qpe requesters       - List/inspect known requesters
//	qpe block            - Block a requester (emergency stop)
//	qpe unblock           - Unblock a requester
//	qpe upload           - Upload a question paper to a running engine
//	qpe ask              - Resolve a single utterance against a running engine
//	qpe audit            - Query/verify the audit log
//	qpe config           - View/edit engine configuration
package main

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qpaper/qpe/internal/audit"
	"github.com/qpaper/qpe/internal/config"
	"github.com/qpaper/qpe/internal/dashboard"
	"github.com/qpaper/qpe/internal/httpapi"
	"github.com/qpaper/qpe/internal/nlu"
	"github.com/qpaper/qpe/internal/requester"
	"github.com/qpaper/qpe/internal/tagrules"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-07-29"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.qpe/ where all runtime state
// lives: config.yaml, tagrules.yaml, requesters.yaml, blocked.yaml, and
// the audit/ directory.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qpe"
	}
	return filepath.Join(home, ".qpe")
}

// main is the entry point. It builds the cobra command tree and executes it.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for the qpe config/state directory.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "qpe",
	Short: "qpe — interactive question-paper engine",
	Long: `qpe ingests an XML question paper, builds a navigable document tree,
and resolves natural-language utterances against it through an external
NLU endpoint — "next question", "mark this for review", "how many have
I skipped" — while hash-chain auditing every resolution.

Run 'qpe serve' to start the engine.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to qpe config and state directory",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(requestersCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
}

// ============================================================================
// qpe serve — Start the engine
// ============================================================================

var daemonMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the qpe engine",
	Long: `Start the qpe engine. It listens for POST /upload (a question paper)
and GET /{text} (an utterance to resolve), and serves the dashboard on
the same port.

By default runs in the foreground. Use -d for daemon/background mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run engine in daemon/background mode")
}

// runServe initializes all subsystems and starts the HTTP server.
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load config from ~/.qpe/config.yaml
//  3. Initialize the tag classifier (loads tagrules.yaml + built-in rules)
//  4. Initialize the audit log (hash-chained JSONL + SQLite index)
//  5. Initialize the requester registry + block-list
//  6. Create the NLU client/parser and the httpapi.Server
//  7. Mount the dashboard on /dashboard (if enabled in config)
//  8. Write PID file for process management
//  9. Start the config watcher for hot-reload
//  10. Start listening and block until SIGINT/SIGTERM or HTTP shutdown
func runServe(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("QPE_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	// --- Step 1: Load configuration ---
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// --- Step 2: Initialize the tag classifier ---
	tagRulesPath := cfg.TagRules.Path
	if tagRulesPath == "" {
		tagRulesPath = filepath.Join(configDir, "tagrules.yaml")
	} else if !filepath.IsAbs(tagRulesPath) {
		tagRulesPath = filepath.Join(configDir, tagRulesPath)
	}
	classifier, err := tagrules.New(tagRulesPath)
	if err != nil {
		return fmt.Errorf("failed to initialize tag classifier: %w", err)
	}

	// --- Step 3: Initialize the audit log ---
	auditDir := cfg.Audit.Dir
	if auditDir == "" {
		auditDir = filepath.Join(configDir, "audit")
	} else if !filepath.IsAbs(auditDir) {
		auditDir = filepath.Join(configDir, auditDir)
	}
	auditLog, err := audit.New(auditDir)
	if err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	defer auditLog.Close()

	auditLog.LogLifecycle("engine_start", fmt.Sprintf("version=%s commit=%s host=%s port=%d",
		version, commit, cfg.Server.Host, cfg.Server.Port))

	// --- Step 4: Initialize requester registry + block-list ---
	registryPath := cfg.Requester.RegistryPath
	if registryPath == "" {
		registryPath = filepath.Join(configDir, "requesters.yaml")
	} else if !filepath.IsAbs(registryPath) {
		registryPath = filepath.Join(configDir, registryPath)
	}
	registry, err := requester.NewRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to initialize requester registry: %w", err)
	}

	blockListPath := cfg.Requester.BlockListPath
	if blockListPath == "" {
		blockListPath = filepath.Join(configDir, "blocked.yaml")
	} else if !filepath.IsAbs(blockListPath) {
		blockListPath = filepath.Join(configDir, blockListPath)
	}
	blockList, err := requester.NewBlockList(blockListPath)
	if err != nil {
		return fmt.Errorf("failed to initialize block-list: %w", err)
	}

	// --- Step 5: Create the dashboard (before the server, so we can wire broadcast) ---
	var dash *dashboard.Dashboard
	if cfg.Dashboard.Enabled {
		dash = dashboard.New(dashboard.Options{
			AuditLog:  auditLog,
			Registry:  registry,
			BlockList: blockList,
		})
	}

	// --- Step 6: Create the NLU client/parser and the HTTP server ---
	nluTimeout := time.Duration(cfg.NLU.TimeoutMs) * time.Millisecond
	if nluTimeout <= 0 {
		nluTimeout = 10 * time.Second
	}
	nluClient := nlu.NewClient(cfg.NLU.APIURL, nluTimeout)
	parser := nlu.NewParser()

	serverOpts := httpapi.Options{
		AuditLog:   auditLog,
		Registry:   registry,
		BlockList:  blockList,
		NLUClient:  nluClient,
		Parser:     parser,
		Classifier: classifier,
	}
	if dash != nil {
		serverOpts.OnAuditEvent = func(e audit.Entry) {
			dash.BroadcastEvent(e)
		}
	}
	apiServer := httpapi.New(serverOpts)

	// --- Step 7: Set up HTTP mux ---
	//   POST /upload   -> apiServer.HandleUpload
	//   GET  /{text}   -> apiServer.HandleUtterance (catch-all fallback)
	//   /dashboard*    -> dashboard handler (web UI + WebSocket feed)
	//   /api/*         -> dashboard REST API (status, requesters, audit, block)
	//   /health        -> health check (used by `qpe status`)
	//   /shutdown      -> graceful shutdown trigger (used by `qpe stop`)
	mux := http.NewServeMux()

	mux.HandleFunc("/upload", apiServer.HandleUpload)

	if dash != nil {
		mux.Handle("/dashboard", dash)
		mux.Handle("/dashboard/", dash)
		mux.Handle("/dashboard/ws", dash.WebSocketHandler())
		mux.Handle("/api/", dash.APIHandler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	// Catch-all: anything else is an utterance to resolve against the
	// uploaded paper. Registered last so /upload, /dashboard, /api,
	// /health, and /shutdown take precedence.
	mux.HandleFunc("/", apiServer.HandleUtterance)

	// --- Step 8: Start the HTTP server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Step 9: Write PID file ---
	pidFile := filepath.Join(configDir, "qpe.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	// --- Step 10: Start config file watcher for hot-reload ---
	// tagrules.yaml changes reload the classifier; blocked.yaml changes
	// update the in-memory block-list. This is what makes `qpe block`
	// take effect instantly without restarting the engine.
	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnTagRulesChange: func() {
			if reloadErr := classifier.Reload(tagRulesPath); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[qpe] Warning: failed to reload tag rules: %v\n", reloadErr)
			} else {
				fmt.Println("[qpe] Tag rules reloaded")
			}
		},
		OnBlockListChange: func() {
			if reloadErr := blockList.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[qpe] Warning: failed to reload block-list: %v\n", reloadErr)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	// --- Step 11: Graceful shutdown on SIGINT/SIGTERM or HTTP /shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[qpe] Engine listening on http://%s\n", addr)
		if cfg.Dashboard.Enabled {
			fmt.Printf("[qpe] Dashboard at http://%s/dashboard\n", addr)
		}
		if !daemonMode {
			fmt.Println("[qpe] Press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[qpe] Shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[qpe] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[qpe] Shutdown error: %v\n", shutdownErr)
	}

	auditLog.LogLifecycle("engine_stop", "")

	if saveErr := registry.Save(); saveErr != nil {
		fmt.Fprintf(os.Stderr, "[qpe] Warning: failed to save requester registry: %v\n", saveErr)
	}

	fmt.Println("[qpe] Stopped")
	return nil
}

// spawnDaemon re-executes the qpe binary as a detached background process.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "qpe.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"serve"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "QPE_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[qpe] Engine started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[qpe] Log file: %s\n", logPath)
	fmt.Println("[qpe] Use 'qpe stop' to stop the engine")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[qpe] Warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback restricts the /shutdown endpoint to local-only access.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// qpe stop — Stop the engine
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running qpe engine",
	Long: `Stop a running qpe engine. Tries HTTP shutdown first (cross-platform),
then falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[qpe] Stop signal sent to engine")
			os.Remove(filepath.Join(configDir, "qpe.pid"))
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("engine is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "qpe.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("engine is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop engine (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[qpe] Sent stop signal to engine (PID %d)\n", pid)
	return nil
}

// ============================================================================
// qpe status — Show engine status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long:  `Display whether the qpe engine is running and its listen address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[qpe] Status: NOT RUNNING")
		fmt.Printf("[qpe] Expected at: %s\n", addr)
		return nil
	}
	resp.Body.Close()

	fmt.Println("[qpe] Status: RUNNING")
	fmt.Printf("[qpe] Listening on: %s\n", addr)
	return nil
}

// ============================================================================
// qpe requesters — List known requesters
// ============================================================================

var requestersCmd = &cobra.Command{
	Use:   "requesters",
	Short: "List all known requesters",
	Long: `List every requester the engine has seen, with their utterance count
and first/last seen times. Requesters are auto-registered on their first
resolved utterance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registryPath := filepath.Join(configDir, "requesters.yaml")
		reg, err := requester.NewRegistry(registryPath)
		if err != nil {
			return fmt.Errorf("failed to load requester registry: %w", err)
		}

		requesters := reg.List()
		if len(requesters) == 0 {
			fmt.Println("No requesters registered yet. Start the engine and resolve an utterance to register one.")
			return nil
		}

		fmt.Printf("%-30s %-12s %-20s %-20s\n", "REQUESTER", "UTTERANCES", "FIRST SEEN", "LAST SEEN")
		fmt.Printf("%-30s %-12s %-20s %-20s\n", "---------", "----------", "----------", "---------")
		for _, req := range requesters {
			fmt.Printf("%-30s %-12d %-20s %-20s\n",
				req.ID, req.UtteranceCount,
				humanize.Time(req.FirstSeen), humanize.Time(req.LastSeen))
		}
		return nil
	},
}

// ============================================================================
// qpe block / qpe unblock — Requester block-list management
// ============================================================================

var blockReason string

var blockCmd = &cobra.Command{
	Use:   "block <requester-id>",
	Short: "Block a requester (emergency stop)",
	Long: `Immediately block a requester by ID. All subsequent utterances from
this requester are rejected with 403 before they ever reach the NLU
client or the resolver.

Takes effect immediately — the running engine file-watches blocked.yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blockListPath := filepath.Join(configDir, "blocked.yaml")
		bl, err := requester.NewBlockList(blockListPath)
		if err != nil {
			return fmt.Errorf("failed to load block-list: %w", err)
		}
		if err := bl.Block(args[0], blockReason, "user"); err != nil {
			return fmt.Errorf("failed to block requester %q: %w", args[0], err)
		}
		fmt.Printf("[qpe] Blocked requester: %s (reason: %s)\n", args[0], blockReason)
		return nil
	},
}

func init() {
	blockCmd.Flags().StringVar(&blockReason, "reason", "", "Reason for blocking the requester (required)")
	blockCmd.MarkFlagRequired("reason")
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <requester-id>",
	Short: "Unblock a requester",
	Long: `Remove a requester from the block-list, allowing its utterances to
resolve again. The running engine file-watches blocked.yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blockListPath := filepath.Join(configDir, "blocked.yaml")
		bl, err := requester.NewBlockList(blockListPath)
		if err != nil {
			return fmt.Errorf("failed to load block-list: %w", err)
		}
		if err := bl.Unblock(args[0]); err != nil {
			return fmt.Errorf("failed to unblock requester %q: %w", args[0], err)
		}
		fmt.Printf("[qpe] Unblocked requester: %s\n", args[0])
		return nil
	},
}

// ============================================================================
// qpe upload — Upload a question paper to a running engine
// ============================================================================

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a question paper XML file to a running engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd, args)
	},
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	if info, statErr := f.Stat(); statErr == nil {
		fmt.Printf("[qpe] Uploading %s (%s)...\n", args[0], humanize.Bytes(uint64(info.Size())))
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer mw.Close()
		part, err := mw.CreateFormFile("file", filepath.Base(args[0]))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
		}
	}()

	req, err := http.NewRequest(http.MethodPost, addr+"/upload", pr)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	fmt.Println(string(body))
	return nil
}

// ============================================================================
// qpe ask — Resolve a single utterance against a running engine
// ============================================================================

var askRequesterID string

var askCmd = &cobra.Command{
	Use:   "ask <utterance>",
	Short: "Resolve an utterance against a running engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, args)
	},
}

func init() {
	askCmd.Flags().StringVar(&askRequesterID, "requester-id", "", "X-Requester-Id header to send")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	req, err := http.NewRequest(http.MethodGet, addr+"/"+args[0], nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if askRequesterID != "" {
		req.Header.Set("X-Requester-Id", askRequesterID)
	}

	resp, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	fmt.Println(string(body))
	return nil
}

// ============================================================================
// qpe audit — Query and verify the audit log
// ============================================================================

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the audit log",
	Long: `The audit log records every utterance resolution the engine performs,
including the decision (ok/error), the resolved operation, timestamps,
and requester identity. Entries are hash-chained: each entry's hash
depends on the previous entry, making tampering detectable.`,
}

var auditFollowMode bool
var auditTailLimit int

func init() {
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit entries",
	Long:  `Show the most recent audit log entries. Use -f to follow in real-time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auditDir := filepath.Join(configDir, "audit")
		auditLog, err := audit.New(auditDir)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()

		entries, err := auditLog.Tail(auditTailLimit)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		for _, entry := range entries {
			printAuditEntry(entry)
		}

		if auditFollowMode {
			return auditLog.Follow(context.Background(), func(entry audit.Entry) {
				printAuditEntry(entry)
			})
		}
		return nil
	},
}

func init() {
	auditTailCmd.Flags().BoolVarP(&auditFollowMode, "follow", "f", false, "Follow new entries in real-time")
	auditTailCmd.Flags().IntVarP(&auditTailLimit, "limit", "n", 20, "Number of recent entries to show")
}

var (
	auditQueryRequester string
	auditQueryDecision  string
	auditQuerySince     string
	auditQueryLimit     int
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit entries with filters",
	Long: `Query the audit log with filters. Supports filtering by requester ID,
decision (ok/error), and time range.

Examples:
  qpe audit query --requester 10.0.0.5:54213 --decision error --since 1h
  qpe audit query --requester demo-client --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auditDir := filepath.Join(configDir, "audit")
		auditLog, err := audit.New(auditDir)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()

		entries, err := auditLog.Query(audit.QueryParams{
			Requester: auditQueryRequester,
			Decision:  auditQueryDecision,
			Since:     auditQuerySince,
			Limit:     auditQueryLimit,
		})
		if err != nil {
			return fmt.Errorf("audit query failed: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No matching audit entries found.")
			return nil
		}
		for _, entry := range entries {
			printAuditEntry(entry)
		}
		fmt.Printf("\n%d entries found.\n", len(entries))
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditQueryRequester, "requester", "", "Filter by requester ID")
	auditQueryCmd.Flags().StringVar(&auditQueryDecision, "decision", "", "Filter by decision (ok/error)")
	auditQueryCmd.Flags().StringVar(&auditQuerySince, "since", "", "Show entries since duration (e.g., 1h, 30m, 24h)")
	auditQueryCmd.Flags().IntVar(&auditQueryLimit, "limit", 50, "Maximum number of entries to return")
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity",
	Long: `Verify the integrity of the audit log hash chain. Each entry's hash
is computed as SHA-256(prev_hash | seq | timestamp | requester | operation | decision).
If any entry has been tampered with, the chain breaks and this command
reports where the inconsistency was detected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auditDir := filepath.Join(configDir, "audit")
		auditLog, err := audit.New(auditDir)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()

		result, err := auditLog.VerifyChain()
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		if result.Valid {
			fmt.Printf("[qpe] Hash chain VALID (%d entries verified)\n", result.EntriesChecked)
		} else {
			fmt.Printf("[qpe] Hash chain BROKEN at entry #%d\n", result.BrokenAt)
			fmt.Printf("  Expected hash: %s\n", result.ExpectedHash)
			fmt.Printf("  Actual hash:   %s\n", result.ActualHash)
			return fmt.Errorf("audit chain integrity violation detected")
		}
		return nil
	},
}

var auditExportFormat string

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit log",
	Long: `Export the full audit log to stdout in the specified format.
Supported formats: csv, json, jsonl.

Example:
  qpe audit export --format csv > audit_export.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auditDir := filepath.Join(configDir, "audit")
		auditLog, err := audit.New(auditDir)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()
		return auditLog.Export(os.Stdout, auditExportFormat)
	},
}

func init() {
	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "jsonl", "Export format: csv, json, jsonl")
}

// printAuditEntry formats and prints a single audit entry to stdout.
func printAuditEntry(e audit.Entry) {
	decision := e.Decision
	if decision == "error" {
		decision = "ERROR"
	}
	if e.Operation != "" {
		fmt.Printf("[%s] requester=%-25s type=%-6s operation=%-14s decision=%-6s\n",
			e.Timestamp, e.Requester, e.Type, e.Operation, decision)
	} else {
		fmt.Printf("[%s] requester=%-25s type=%-6s decision=%s\n",
			e.Timestamp, e.Requester, e.Type, decision)
	}
}

// ============================================================================
// qpe config — Configuration management
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit engine configuration",
	Long: `Manage the qpe engine configuration. The config file lives at
~/.qpe/config.yaml and defines the server bind address, the NLU
endpoint, tag-rule and block-list paths, and the dashboard toggle.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configGenerateCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s\n", configPath)
				fmt.Println("Run 'qpe config generate' for a template.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  `Open the qpe config file in your default editor ($EDITOR or $VISUAL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := config.WriteDefault(configPath); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		editCmd := exec.Command(editor, configPath)
		editCmd.Stdin = os.Stdin
		editCmd.Stdout = os.Stdout
		editCmd.Stderr = os.Stderr
		return editCmd.Run()
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a default config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath := filepath.Join(configDir, "config.yaml")
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		fmt.Printf("[qpe] Wrote default config to %s\n", configPath)
		return nil
	},
}
