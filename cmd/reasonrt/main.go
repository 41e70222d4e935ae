// Command reasonrt runs a reasoning strategy against a query from the
// command line. It wires the configured model provider, the tool registry,
// budget tracking, and the optional persistence and observability sinks,
// then submits a single request and prints the final answer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"reasonrt/pkg/boundary"
	"reasonrt/pkg/budget"
	"reasonrt/pkg/config"
	"reasonrt/pkg/controller"
	"reasonrt/pkg/eventlog"
	"reasonrt/pkg/llm"
	"reasonrt/pkg/llm/providers"
	"reasonrt/pkg/logx"
	"reasonrt/pkg/machine"
	"reasonrt/pkg/metrics"
	"reasonrt/pkg/persistence"
	"reasonrt/pkg/tools"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const checkpointInterval = 5 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file (optional)")
		strategy    = flag.String("strategy", "react", "Reasoning strategy: "+strings.Join(machine.StrategyNames(), ", "))
		modelName   = flag.String("model", "", "Model name from config (default: config default_model)")
		query       = flag.String("query", "", "Query to answer")
		contextFile = flag.String("context-file", "", "File whose contents are provided as analysis context")
		resumeID    = flag.String("resume", "", "Resume the request with this ID from its latest checkpoint")
		listRuns    = flag.Bool("list", false, "List recent requests and exit")
		secretsDir  = flag.String("secrets-dir", ".", "Directory holding the encrypted secrets file")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("reasonrt %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	logx.SetDebug(*debug)

	os.Exit(run(runOptions{
		configPath:  *configPath,
		strategy:    *strategy,
		modelName:   *modelName,
		query:       *query,
		contextFile: *contextFile,
		resumeID:    *resumeID,
		listRuns:    *listRuns,
		secretsDir:  *secretsDir,
	}))
}

type runOptions struct {
	configPath  string
	strategy    string
	modelName   string
	query       string
	contextFile string
	resumeID    string
	listRuns    bool
	secretsDir  string
}

// run contains the main application logic and returns an exit code so that
// defers execute before os.Exit.
func run(opts runOptions) int {
	log := logx.NewLogger("reasonrt")

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Observability.Debug {
		logx.SetDebug(true)
	}

	if err := unlockSecrets(opts.secretsDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unlock secrets: %v\n", err)
		return 1
	}

	var store *persistence.Store
	if cfg.Observability.DatabasePath != "" {
		db, dbErr := persistence.InitializeDatabase(cfg.Observability.DatabasePath)
		if dbErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", dbErr)
			return 1
		}
		defer db.Close()
		store = persistence.NewStore(db)
	}

	if opts.listRuns {
		return listRequests(store)
	}

	if opts.query == "" && opts.resumeID == "" {
		fmt.Fprintln(os.Stderr, "Either -query or -resume is required")
		flag.Usage()
		return 2
	}
	if opts.resumeID != "" && store == nil {
		fmt.Fprintln(os.Stderr, "-resume requires observability.database_path in the config")
		return 2
	}

	model, err := cfg.FindModel(resolveModelName(cfg, opts.modelName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Model selection failed: %v\n", err)
		return 1
	}

	recorder, metricsSrv := setupMetrics(cfg, log)
	if metricsSrv != nil {
		defer metricsSrv.Close()
	}

	client, err := buildClient(model, opts.strategy, recorder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build LLM client: %v\n", err)
		return 1
	}

	var journal controller.Journal
	if cfg.Observability.EventLogDir != "" {
		writer, logErr := eventlog.NewWriter(cfg.Observability.EventLogDir)
		if logErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to open event log: %v\n", logErr)
			return 1
		}
		defer writer.Close()
		journal = writer
	}

	arena := budget.NewStore()
	budgetHandle := arena.CreateBudget("root", cfg.Limits.MaxChildren, cfg.Limits.TokenBudget)
	workspaceHandle := arena.CreateWorkspace("root")

	workspace, err := arena.Workspace(workspaceHandle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Workspace setup failed: %v\n", err)
		return 1
	}
	registry := buildRegistry(workspace)

	runtime, err := boundary.New(boundary.Options{
		Strategy:        opts.strategy,
		Machine:         machineConfig(cfg, model, registry),
		Client:          client,
		Registry:        registry,
		Store:           arena,
		BudgetHandle:    budgetHandle,
		WorkspaceHandle: workspaceHandle,
		Owner:           "root",
		Log:             log,
		Metrics:         recorder,
		Journal:         journal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Runtime setup failed: %v\n", err)
		return 1
	}
	defer runtime.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.resumeID != "" {
		return resumeRequest(ctx, runtime.Controller(), store, opts.resumeID)
	}
	return submitRequest(ctx, runtime.Controller(), store, opts)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// unlockSecrets decrypts the secrets file when one exists, prompting for the
// password on the terminal. Without a secrets file API keys come from the
// environment.
func unlockSecrets(dir string) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}
	fmt.Print("Enter the secrets password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	defer func() {
		for i := range password {
			password[i] = 0
		}
	}()
	return config.LoadSecrets(dir, string(password))
}

func resolveModelName(cfg *config.Config, flagName string) string {
	if flagName != "" {
		return flagName
	}
	return cfg.DefaultModel
}

func setupMetrics(cfg *config.Config, log *logx.Logger) (metrics.Recorder, *http.Server) {
	if cfg.Observability.MetricsListen == "" {
		return metrics.Nop(), nil
	}
	recorder := metrics.NewPrometheusRecorder()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Observability.MetricsListen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped: %v", err)
		}
	}()
	return recorder, srv
}

func buildClient(model *config.Model, strategy string, recorder metrics.Recorder) (llm.Client, error) {
	base, err := providers.NewClient(model)
	if err != nil {
		return nil, err
	}
	retrying := llm.NewRetryableClient(base, llm.DefaultRetryConfig)
	return llm.NewInstrumentedClient(retrying, recorder, strategy, llm.Pricing{
		PromptPer1K:     model.PromptCostPer1K,
		CompletionPer1K: model.CompletionCostPer1K,
	}), nil
}

func buildRegistry(workspace *budget.Workspace) *tools.Registry {
	registry := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		tools.NewCalculatorTool(),
		tools.NewTextSearchTool(),
		tools.NewNoteWriteTool(workspace, "root"),
		tools.NewNoteReadTool(workspace),
	} {
		// Names are distinct, registration cannot collide.
		_ = registry.Register(tool)
	}
	return registry
}

func machineConfig(cfg *config.Config, model *config.Model, registry *tools.Registry) machine.Config {
	return machine.Config{
		Model:           model.Name,
		MaxTokens:       model.MaxTokens,
		MaxIterations:   cfg.Limits.MaxIterations,
		MaxParseRetries: cfg.Limits.MaxParseRetries,
		Tools:           registry.Definitions(),
		ToolTimeout:     cfg.Tools.Timeout(),
		ToolMaxRetries:  cfg.Tools.MaxRetries,
		ToolBackoff:     cfg.Tools.Backoff(),
		Depth:           cfg.Limits.MaxDepth,
		FanoutTokens:    cfg.Limits.FanoutTokens,
		ChunkLines:      cfg.Limits.ChunkLines,
		MaxChildren:     cfg.Limits.MaxChildren,
	}
}

func submitRequest(ctx context.Context, ctrl *controller.Controller, store *persistence.Store, opts runOptions) int {
	contextText := ""
	if opts.contextFile != "" {
		data, err := os.ReadFile(opts.contextFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read context file: %v\n", err)
			return 1
		}
		contextText = string(data)
	}

	requestID := uuid.NewString()
	if store != nil {
		if err := store.CreateRequest(requestID, opts.strategy, opts.query); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to record request: %v\n", err)
			return 1
		}
	}

	if err := ctrl.Submit(ctx, requestID, opts.query, contextText); err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		return 1
	}
	return awaitAndReport(ctx, ctrl, store, requestID)
}

func resumeRequest(ctx context.Context, ctrl *controller.Controller, store *persistence.Store, requestID string) int {
	token, err := store.LatestCheckpoint(requestID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No checkpoint for request %s: %v\n", requestID, err)
		return 1
	}
	if err := ctrl.Resume(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "Resume failed: %v\n", err)
		return 1
	}
	return awaitAndReport(ctx, ctrl, store, requestID)
}

// awaitAndReport blocks until the request reaches a terminal state, saving
// periodic checkpoints along the way. An interrupt cancels the request but
// still waits for the machine to settle so the final checkpoint is durable.
func awaitAndReport(ctx context.Context, ctrl *controller.Controller, store *persistence.Store, requestID string) int {
	done := make(chan struct{})
	go checkpointLoop(ctrl, store, requestID, done)
	defer close(done)

	snap, err := ctrl.Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			_ = ctrl.Cancel("interrupted")
			snap, err = ctrl.Await(context.Background())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request did not finish: %v\n", err)
			return 1
		}
	}

	finishRecord(store, requestID, snap)

	if snap.Status == machine.StatusCompleted {
		fmt.Println(snap.Result)
		return 0
	}
	fmt.Fprintf(os.Stderr, "Request failed: %s\n", snap.Reason)
	return 1
}

func checkpointLoop(ctrl *controller.Controller, store *persistence.Store, requestID string, done <-chan struct{}) {
	if store == nil {
		return
	}
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			token, err := ctrl.Checkpoint()
			if err != nil {
				continue
			}
			_ = store.SaveCheckpoint(requestID, token)
		}
	}
}

func finishRecord(store *persistence.Store, requestID string, snap machine.Snapshot) {
	if store == nil {
		return
	}
	status := "error"
	if snap.Status == machine.StatusCompleted {
		status = "completed"
	}
	err := store.FinishRequest(&persistence.RequestRecord{
		ID:               requestID,
		Status:           status,
		Reason:           string(snap.Reason),
		Result:           snap.Result,
		Iterations:       snap.Iteration,
		PromptTokens:     snap.Usage.PromptTokens,
		CompletionTokens: snap.Usage.CompletionTokens,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record outcome: %v\n", err)
	}
}

func listRequests(store *persistence.Store) int {
	if store == nil {
		fmt.Fprintln(os.Stderr, "-list requires observability.database_path in the config")
		return 2
	}
	records, err := store.ListRequests(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list requests: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Println("No requests recorded.")
		return 0
	}
	for _, rec := range records {
		fmt.Printf("%s  %-10s  %-9s  %s\n", rec.CreatedAt.Format(time.RFC3339), rec.Strategy, rec.Status, truncate(rec.Query, 60))
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
