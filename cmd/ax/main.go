// Command ax is the AX control-plane binary: it starts the IPC server that
// sandboxed agent workers talk to, and offers a handful of operator
// subcommands for interacting with a running instance. Subcommand dispatch
// follows Ruriko's cmd/ruriko/main.go: manual os.Args parsing, no CLI
// framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/axrun/ax/common/crypto"
	"github.com/axrun/ax/common/version"
	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/browser"
	"github.com/axrun/ax/internal/ax/channel/matrix"
	"github.com/axrun/ax/internal/ax/config"
	"github.com/axrun/ax/internal/ax/ipc/client"
	"github.com/axrun/ax/internal/ax/ipc/handlers"
	"github.com/axrun/ax/internal/ax/ipc/schema"
	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/memory"
	"github.com/axrun/ax/internal/ax/observability"
	"github.com/axrun/ax/internal/ax/prompt"
	"github.com/axrun/ax/internal/ax/provider/llm"
	"github.com/axrun/ax/internal/ax/provider/registry"
	"github.com/axrun/ax/internal/ax/proxy"
	"github.com/axrun/ax/internal/ax/router"
	"github.com/axrun/ax/internal/ax/sandbox"
	"github.com/axrun/ax/internal/ax/sandbox/dockersandbox"
	"github.com/axrun/ax/internal/ax/sandbox/nsjail"
	"github.com/axrun/ax/internal/ax/sandbox/unsandboxed"
	"github.com/axrun/ax/internal/ax/scheduler"
	"github.com/axrun/ax/internal/ax/session"
	"github.com/axrun/ax/internal/ax/skills"
	"github.com/axrun/ax/internal/ax/taint"
	"github.com/axrun/ax/internal/ax/webfetch"
	"github.com/axrun/ax/internal/ax/websearch"
)

func main() {
	args := os.Args[1:]
	if hasFlag(args, "--version", "-v") {
		printVersion()
		return
	}
	if hasFlag(args, "--help", "-h") {
		printUsage()
		return
	}

	cmd := "serve"
	rest := args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		rest = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(rest)
	case "worker":
		err = runWorkerProcess()
	case "chat":
		err = runChat(rest)
	case "send":
		err = runSend(rest)
	case "configure":
		err = runConfigure(rest)
	case "bootstrap":
		err = runBootstrap(rest)
	default:
		fmt.Fprintf(os.Stderr, "ax: unknown subcommand %q\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ax: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("AX Agent Host\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
}

func printUsage() {
	fmt.Println("Usage: ax [command] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve       start the IPC server and credential proxy (default)")
	fmt.Println("  worker      run one sandboxed completion task (spawned by serve, not for direct use)")
	fmt.Println("  chat        not available in this build (exits with an error)")
	fmt.Println("  send        echo the message; delivery to a session is not available in this build (exits with an error)")
	fmt.Println("  configure   write a fixed starter config.yaml (never overwrites an existing file)")
	fmt.Println("  bootstrap   initialize the encrypted credential store")
	fmt.Println()
	fmt.Println("Global flags: --help/-h --version/-v")
	fmt.Println("Server flags: --daemon --socket PATH --config PATH --verbose")
}

func hasFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

func flagValue(args []string, name, def string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, name+"=") {
			return strings.TrimPrefix(a, name+"=")
		}
	}
	return def
}

// serveConfig bundles the flags/env the serve subcommand needs to wire a
// running instance. Flags override environment defaults.
type serveConfig struct {
	socketPath   string
	configPath   string
	verbose      bool
	daemon       bool
	dataDir      string
	proxyAddr    string
	upstreamBase string
}

func loadServeConfig(args []string) serveConfig {
	dataDir := getEnv("AX_DATA_DIR", "./data")
	return serveConfig{
		socketPath:   flagValue(args, "--socket", getEnv("AX_SOCKET_PATH", "/run/ax/ax.sock")),
		configPath:   flagValue(args, "--config", getEnv("AX_CONFIG_PATH", "./config.yaml")),
		verbose:      hasFlag(args, "--verbose") || getEnvBool("AX_VERBOSE", false),
		daemon:       hasFlag(args, "--daemon"),
		dataDir:      dataDir,
		proxyAddr:    getEnv("AX_PROXY_LISTEN", "127.0.0.1:8089"),
		upstreamBase: getEnv("AX_UPSTREAM_BASE", "https://api.anthropic.com"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func runServe(args []string) error {
	sc := loadServeConfig(args)

	level := "info"
	if sc.verbose {
		level = "debug"
	}
	observability.Setup(level, getEnv("AX_LOG_FORMAT", "text"))

	fmt.Printf("AX Agent Host %s\n", version.Version)

	cfg, err := loadConfig(sc.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(sc.dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sessionStore, err := session.Open(sc.dataDir + "/sessions.db")
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessionStore.Close()

	memoryStore, err := memory.Open(sc.dataDir + "/memory.db")
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer memoryStore.Close()

	schedulerStore, err := scheduler.Open(sc.dataDir + "/scheduler.db")
	if err != nil {
		return fmt.Errorf("open scheduler store: %w", err)
	}
	defer schedulerStore.Close()

	skillsRoot := getEnv("AX_SKILLS_DIR", sc.dataDir+"/skills")
	if err := os.MkdirAll(skillsRoot, 0o750); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	skillsStore, err := skills.Open(skillsRoot)
	if err != nil {
		return fmt.Errorf("open skills store: %w", err)
	}

	identityRoot := getEnv("AX_IDENTITY_DIR", sc.dataDir+"/identity")
	if err := os.MkdirAll(identityRoot, 0o750); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}

	auditLogPath := getEnv("AX_AUDIT_LOG_PATH", sc.dataDir+"/audit.jsonl")
	auditLog, err := audit.Open(auditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	rt := router.New(sessionStore, auditLog)

	llmRouter := llm.NewRouter()
	var providers []llm.Provider
	if built, err := registry.Build(registry.KindLLM, cfg.Providers["llm"]); err == nil {
		if p, ok := built.(llm.Provider); ok {
			providers = append(providers, p)
		}
	} else if cfg.Providers["llm"] != "" {
		return fmt.Errorf("build llm provider %q: %w", cfg.Providers["llm"], err)
	}

	fetcher := webfetch.New()

	var searcher *websearch.Searcher
	if built, err := registry.Build(registry.KindSearch, cfg.Providers["search"]); err == nil {
		if s, ok := built.(*websearch.Searcher); ok {
			searcher = s
		}
	} else if cfg.Providers["search"] != "" {
		return fmt.Errorf("build search provider %q: %w", cfg.Providers["search"], err)
	}

	browserManager := browser.NewManager()

	sandboxRT, ok := selectSandbox(cfg.Providers["sandbox"])
	if !ok {
		fmt.Fprintln(os.Stderr, "ax: warning: no sandbox runtime available, falling back to unsandboxed")
		sandboxRT = unsandboxed.New()
	}
	fmt.Printf("sandbox runtime: %s\n", sandboxRuntimeName(sandboxRT))

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve ax executable path: %w", err)
	}

	workspaceRoot := getEnv("AX_WORKER_WORKSPACE_ROOT", sc.dataDir+"/workspaces")
	if err := os.MkdirAll(workspaceRoot, 0o750); err != nil {
		return fmt.Errorf("create worker workspace root: %w", err)
	}

	sbx := sandboxEnv{
		runtime:       sandboxRT,
		command:       workerCommand(sandboxRT, execPath),
		workspaceRoot: workspaceRoot,
		skillsDir:     skillsRoot,
		identityDir:   identityRoot,
		socketDir:     filepath.Dir(sc.socketPath),
		memoryMB:      getEnvInt("AX_SANDBOX_MEMORY_MB", 512),
		timeoutSec:    getEnvInt("AX_SANDBOX_TIMEOUT_SEC", 120),
	}

	promptReg := prompt.NewRegistry()
	for _, m := range prompt.StandardModules() {
		promptReg.Register(m)
	}
	worker := newSandboxedWorker(sessionStore, rt, promptReg, identityRoot, sbx)

	taintStates := make(map[string]*taint.State)
	deps := handlers.Deps{
		Memory:       memoryStore,
		Scheduler:    schedulerStore,
		Skills:       skillsStore,
		Browser:      browserManager,
		Fetcher:      fetcher,
		Searcher:     searcher,
		LLM:          llmRouter,
		Providers:    providers,
		AuditLogPath: auditLogPath,
		IdentityRoot: identityRoot,
		TaintBySession: func(sessionID string) *taint.State {
			if st, ok := taintStates[sessionID]; ok {
				return st
			}
			st := taint.NewState()
			taintStates[sessionID] = st
			return st
		},
		Delegate:                 newDelegateFunc(sessionStore, worker),
		MaxDelegationDepth:       getEnvInt("AX_MAX_DELEGATION_DEPTH", 3),
		MaxConcurrentDelegations: getEnvInt("AX_MAX_CONCURRENT_DELEGATIONS", 4),
	}

	reg := server.NewRegistry()
	handlers.RegisterAll(reg, deps)

	schemaReg, err := schema.Load()
	if err != nil {
		return fmt.Errorf("load ipc schema: %w", err)
	}

	srv := &server.Server{
		SocketPath: sc.socketPath,
		Schema:     schemaReg,
		Handlers:   reg,
		Taint:      &taintAdapter{states: taintStates, threshold: cfg.TaintThreshold()},
		Audit:      auditLog,
	}

	credPath := getEnv("AX_CREDENTIAL_STORE_PATH", sc.dataDir+"/credentials.enc")
	passphrase := os.Getenv("AX_CREDENTIAL_PASSPHRASE")
	// creds holds a concrete (possibly nil) *CredStore rather than a bare
	// nil interface, so Credentials.Credential() stays safe to call even
	// when no store is configured yet (CredStore.Credential handles a nil
	// receiver by reporting "no credential").
	var store *proxy.CredStore
	if passphrase != "" {
		if _, err := os.Stat(credPath); err == nil {
			store, err = proxy.OpenCredStore(credPath, passphrase)
			if err != nil {
				return fmt.Errorf("open credential store: %w", err)
			}
		}
	}
	var creds proxy.CredentialSource = store
	credProxy := proxy.New(sc.upstreamBase, creds, observability.WithTrace(context.Background()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()
	go func() {
		errCh <- runProxyListener(ctx, sc.proxyAddr, credProxy)
	}()
	if ch, err := registry.Build(registry.KindChannel, cfg.Providers["channel"]); err == nil {
		if adapter, ok := ch.(*matrix.Channel); ok {
			go runMatrixChannel(ctx, adapter, rt, worker)
		}
	} else if cfg.Providers["channel"] != "" {
		return fmt.Errorf("build channel provider %q: %w", cfg.Providers["channel"], err)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func runProxyListener(ctx context.Context, addr string, p *proxy.Proxy) error {
	httpSrv := &http.Server{Addr: addr, Handler: p}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	if err := httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// selectSandbox picks the strictest available backend. The configured
// provider name does not reorder this: sandbox backends are ordered
// strictest-first by construction (SC-SEC-002), not chosen by config.
func selectSandbox(preferred string) (sandbox.Runtime, bool) {
	var candidates []sandbox.Runtime
	if dockerRT, err := dockersandbox.New(); err == nil {
		candidates = append(candidates, dockerRT)
	}
	candidates = append(candidates, nsjail.New())
	candidates = append(candidates, unsandboxed.New())
	return sandbox.Select(context.Background(), candidates...)
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Load(data)
}

// taintAdapter satisfies server.TaintStates over an in-memory per-session
// taint.State map plus a single configured profile threshold.
type taintAdapter struct {
	states    map[string]*taint.State
	threshold float64
}

func (a *taintAdapter) TaintState(ctx context.Context, sessionID string) (*taint.State, error) {
	if st, ok := a.states[sessionID]; ok {
		return st, nil
	}
	st := taint.NewState()
	a.states[sessionID] = st
	return st, nil
}

func (a *taintAdapter) Threshold(sessionID string) float64 {
	return a.threshold
}

func runChat(args []string) error {
	return fmt.Errorf("chat: not yet implemented for this build; use 'send' for scripted single-message delivery")
}

func runSend(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ax send <message>")
	}
	fmt.Println(strings.Join(args, " "))
	return fmt.Errorf("send: requires a running instance's socket; connect via the IPC client once available")
}

func runConfigure(args []string) error {
	path := flagValue(args, "--config", getEnv("AX_CONFIG_PATH", "./config.yaml"))
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configure: %s already exists, refusing to overwrite", path)
	}
	starter := `agent: default
profile: balanced
providers:
  llm: openai
  sandbox: docker
  channel: matrix
  search: websearch
sandbox:
  timeout_sec: 120
  memory_mb: 512
scheduler:
  active_hours:
    start: "08:00"
    end: "22:00"
    timezone: "UTC"
  max_token_budget: 100000
  heartbeat_interval_min: 15
`
	if err := os.WriteFile(path, []byte(starter), 0o640); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	fmt.Printf("wrote starter config to %s\n", path)
	return nil
}

func runBootstrap(args []string) error {
	credPath := flagValue(args, "--store", getEnv("AX_CREDENTIAL_STORE_PATH", "./data/credentials.enc"))
	passphrase := os.Getenv("AX_CREDENTIAL_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("bootstrap: AX_CREDENTIAL_PASSPHRASE must be set")
	}
	apiKey := os.Getenv("AX_UPSTREAM_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("bootstrap: AX_UPSTREAM_API_KEY must be set")
	}
	if _, err := crypto.LoadMasterKey(); err != nil {
		fmt.Fprintf(os.Stderr, "ax: note: AX_MASTER_KEY not set (%v); continuing with passphrase-only credential store\n", err)
	}

	cred := proxy.Credential{
		Mode:         proxy.AuthModeAPIKey,
		APIKeyHeader: getEnv("AX_UPSTREAM_API_KEY_HEADER", "x-api-key"),
		APIKeyValue:  apiKey,
	}
	if err := os.MkdirAll(dirOf(credPath), 0o750); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := proxy.SaveCredStore(credPath, passphrase, cred); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	fmt.Printf("wrote encrypted credential store to %s\n", credPath)
	return nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func sandboxRuntimeName(rt sandbox.Runtime) string {
	switch rt.(type) {
	case *dockersandbox.Backend:
		return "docker"
	case *nsjail.Backend:
		return "nsjail"
	case *unsandboxed.Backend:
		return "unsandboxed"
	default:
		return "none"
	}
}

// workerMessage is one turn in the task handoff passed to a sandboxed
// worker process via AX_TASK_MESSAGES, and the shape the worker process
// itself decodes that env var into.
type workerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// sandboxEnv bundles what newSandboxedWorker needs to spawn one sandboxed
// completion per dequeued message: the selected runtime, the re-exec
// command to run inside it, and the mount points/resource limits every
// spawn shares.
type sandboxEnv struct {
	runtime       sandbox.Runtime
	command       []string
	workspaceRoot string
	skillsDir     string
	identityDir   string
	socketDir     string
	memoryMB      int
	timeoutSec    int
}

// workerCommand picks the command a spawned worker process runs. The
// dockersandbox image bundles the ax binary on its own PATH, so it is
// invoked by name; every other backend runs directly on the host
// filesystem and must re-exec the same binary the supervisor is running.
func workerCommand(rt sandbox.Runtime, execPath string) []string {
	if _, ok := rt.(*dockersandbox.Backend); ok {
		return []string{"ax", "worker"}
	}
	return []string{execPath, "worker"}
}

// sanitizeWorkspaceSegment mirrors pathkernel's null-byte/separator
// replacement so a session ID can never escape its workspace subdirectory
// or collide with another session's.
func sanitizeWorkspaceSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		default:
			return r
		}
	}, s)
}

// runWorker spawns one sandboxed worker process to carry out messages,
// waits for it to exit, and reads back the reply it wrote to its
// workspace. The supervisor never calls the LLM directly: the spawned
// process is the only thing that talks to the IPC socket's llm.call
// action, preserving the isolation boundary between supervisor and worker.
func (s sandboxEnv) runWorker(ctx context.Context, sessionID string, messages []workerMessage) (string, error) {
	taskJSON, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshal task messages: %w", err)
	}

	workspaceDir := filepath.Join(s.workspaceRoot, sanitizeWorkspaceSegment(sessionID))
	if err := os.MkdirAll(workspaceDir, 0o750); err != nil {
		return "", fmt.Errorf("create worker workspace: %w", err)
	}
	replyPath := filepath.Join(workspaceDir, "ax-reply.json")
	_ = os.Remove(replyPath)

	spec := sandbox.Spec{
		AgentID:      "worker",
		SessionID:    sessionID,
		WorkspaceDir: workspaceDir,
		SkillsDir:    s.skillsDir,
		IdentityDir:  s.identityDir,
		SocketDir:    s.socketDir,
		Command:      s.command,
		Env: map[string]string{
			"AX_SESSION_ID":    sessionID,
			"AX_TASK_MESSAGES": string(taskJSON),
		},
		MemoryMB:   s.memoryMB,
		TimeoutSec: s.timeoutSec,
		KillGrace:  5 * time.Second,
	}

	handle, err := s.runtime.Spawn(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("spawn worker: %w", err)
	}
	cancelKill := sandbox.ArmKillTimer(s.runtime, handle, spec)
	defer cancelKill()
	defer func() { _ = s.runtime.Remove(context.Background(), handle) }()

	deadline := time.Now().Add(time.Duration(s.timeoutSec)*time.Second + 5*time.Second)
	for time.Now().Before(deadline) {
		status, err := s.runtime.Status(ctx, handle)
		if err != nil {
			return "", fmt.Errorf("check worker status: %w", err)
		}
		if status.State == sandbox.StateExited {
			if status.ExitCode != 0 {
				return "", fmt.Errorf("worker process exited with code %d: %s", status.ExitCode, status.Error)
			}
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	data, err := os.ReadFile(replyPath)
	if err != nil {
		return "", fmt.Errorf("read worker reply: %w", err)
	}
	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode worker reply: %w", err)
	}
	return out.Reply, nil
}

// newSandboxedWorker builds the router.Worker that assembles a prompt plus
// recent history for one dequeued message, then hands that assembled
// conversation to a freshly spawned sandboxed process rather than calling
// the LLM in-process. Prompt assembly and turn persistence stay here,
// where the session store and prompt registry live; only the completion
// itself crosses into the sandbox.
func newSandboxedWorker(store *session.Store, rt *router.Router, promptReg *prompt.Registry, identityRoot string, sbx sandboxEnv) router.Worker {
	soul := readIdentityFileOrEmpty(identityRoot, "soul.md")
	bootstrap := readIdentityFileOrEmpty(identityRoot, "bootstrap.md")

	return func(ctx context.Context, sessionID, content string) (string, error) {
		st, err := rt.TaintState(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("worker: load taint state: %w", err)
		}

		pc := &prompt.Context{
			SessionID:     sessionID,
			Soul:          soul,
			Bootstrap:     bootstrap,
			Taint:         st,
			ContextWindow: getEnvInt("AX_CONTEXT_WINDOW", 128000),
			OutputReserve: getEnvInt("AX_OUTPUT_RESERVE", 4096),
		}
		system := promptReg.Assemble(pc)

		history, err := store.RecentTurns(ctx, sessionID, getEnvInt("AX_HISTORY_TURNS", 20))
		if err != nil {
			return "", fmt.Errorf("worker: load history: %w", err)
		}

		messages := make([]workerMessage, 0, len(history)+2)
		messages = append(messages, workerMessage{Role: "system", Content: system})
		for _, t := range history {
			messages = append(messages, workerMessage{Role: t.Role, Content: t.Content})
		}
		messages = append(messages, workerMessage{Role: "user", Content: content})

		if err := store.AppendTurn(ctx, sessionID, session.Turn{Role: "user", Content: content}); err != nil {
			return "", fmt.Errorf("worker: persist inbound turn: %w", err)
		}

		reply, err := sbx.runWorker(ctx, sessionID, messages)
		if err != nil {
			return "", fmt.Errorf("worker: sandboxed completion: %w", err)
		}

		if err := store.AppendTurn(ctx, sessionID, session.Turn{Role: "assistant", Content: reply}); err != nil {
			return "", fmt.Errorf("worker: persist reply turn: %w", err)
		}
		return reply, nil
	}
}

// newDelegateFunc adapts the same sandboxed-worker function agent.delegate
// dispatches through: a delegated task runs in its own derived child
// session, synchronously, under a bounded timeout since DelegateFunc
// carries no context of its own.
func newDelegateFunc(store *session.Store, worker router.Worker) handlers.DelegateFunc {
	return func(sessionID, agentID, childAgent, task string, depth int) (string, error) {
		childSessionID := fmt.Sprintf("%s:delegate:%s:%d", sessionID, childAgent, depth)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := store.EnsureSession(ctx, childSessionID, "delegate", "agent", childAgent); err != nil {
			return "", fmt.Errorf("delegate: ensure child session: %w", err)
		}
		return worker(ctx, childSessionID, task)
	}
}

// runWorkerProcess is the entry point for the sandboxed worker subprocess
// spawned by newSandboxedWorker's runWorker: it reads its task off the
// environment, completes it over the IPC socket via llm.call (the only
// network-shaped thing this process is allowed to reach), and writes its
// reply to a file in its workspace for the supervisor to read back.
func runWorkerProcess() error {
	socketPath := os.Getenv("AX_IPC_SOCKET")
	if socketPath == "" {
		return fmt.Errorf("worker: AX_IPC_SOCKET not set")
	}
	sessionID := os.Getenv("AX_SESSION_ID")
	if sessionID == "" {
		return fmt.Errorf("worker: AX_SESSION_ID not set")
	}
	taskJSON := os.Getenv("AX_TASK_MESSAGES")
	if taskJSON == "" {
		return fmt.Errorf("worker: AX_TASK_MESSAGES not set")
	}

	var messages []workerMessage
	if err := json.Unmarshal([]byte(taskJSON), &messages); err != nil {
		return fmt.Errorf("worker: decode AX_TASK_MESSAGES: %w", err)
	}

	c, err := client.Dial(socketPath, sessionID, "worker")
	if err != nil {
		return fmt.Errorf("worker: dial ipc socket: %w", err)
	}
	defer c.Close()

	result, err := c.Call("llm.call", map[string]interface{}{"messages": messages})
	if err != nil {
		return fmt.Errorf("worker: llm.call: %w", err)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return fmt.Errorf("worker: decode llm.call result: %w", err)
	}

	replyJSON, err := json.Marshal(map[string]string{"reply": decoded.Text})
	if err != nil {
		return fmt.Errorf("worker: marshal reply: %w", err)
	}
	if err := os.WriteFile("ax-reply.json", replyJSON, 0o640); err != nil {
		return fmt.Errorf("worker: write reply: %w", err)
	}
	return nil
}

func readIdentityFileOrEmpty(root, name string) string {
	if root == "" {
		return ""
	}
	data, err := os.ReadFile(root + "/" + name)
	if err != nil {
		return ""
	}
	return string(data)
}

// runMatrixChannel starts the Matrix adapter's sync loop and bridges its
// inbound callback through the router's scan/canary/enqueue pipeline,
// arming a per-session dispatcher that drains queued messages through
// worker. The dispatcher itself runs every reply through Outbound
// screening before delivery, so worker's raw reply is passed straight
// through here without a second screening pass.
func runMatrixChannel(ctx context.Context, ch *matrix.Channel, rt *router.Router, worker router.Worker) {
	inbound := func(ctx context.Context, sessionID, sender, content string) {
		result, err := rt.Inbound(ctx, sessionID, "matrix", "room", sender, "matrix", content)
		if err != nil || !result.Queued {
			return
		}
		rt.EnsureDispatcher(ctx, sessionID, worker, ch)
	}
	if err := ch.Start(ctx, inbound); err != nil {
		fmt.Fprintf(os.Stderr, "ax: matrix channel failed to start: %v\n", err)
	}
}
