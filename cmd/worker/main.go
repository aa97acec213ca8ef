// Worker executable for the codemode-sandbox Orchestrator.
//
// This starts a Temporal worker that runs CodeModeWorkflow and its
// AnalyzeSubmission/PrepareExecution/ExecuteIsolate activities, wiring up
// every trusted-side component (C1-C7, C9, C10) those activities depend on.
package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/mfateev/codemode-sandbox/internal/analyzer"
	"github.com/mfateev/codemode-sandbox/internal/audit"
	"github.com/mfateev/codemode-sandbox/internal/binding"
	"github.com/mfateev/codemode-sandbox/internal/config"
	"github.com/mfateev/codemode-sandbox/internal/execenv"
	"github.com/mfateev/codemode-sandbox/internal/isolate"
	"github.com/mfateev/codemode-sandbox/internal/mcp"
	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
	"github.com/mfateev/codemode-sandbox/internal/notify"
	"github.com/mfateev/codemode-sandbox/internal/orchestrator"
	"github.com/mfateev/codemode-sandbox/internal/pkgapproval"
	"github.com/mfateev/codemode-sandbox/internal/sandbox"
	"github.com/mfateev/codemode-sandbox/internal/temporalclient"
	"github.com/mfateev/codemode-sandbox/internal/vault"
	"github.com/mfateev/codemode-sandbox/internal/version"
	"github.com/mfateev/codemode-sandbox/internal/workspace"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional)")
	temporalHost := flag.String("temporal-host", "", "Temporal server address (overrides envconfig/env vars)")
	showVersion := flag.Bool("version", false, "print the build's git commit and exit")
	flag.Parse()

	if *showVersion {
		log.Println(version.GitCommit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()

	root, err := workspace.NewRoot(filepath.Join(cfg.BaseDir, "workspace"))
	if err != nil {
		log.Fatalf("failed to resolve workspace root: %v", err)
	}
	if err := root.EnsureExists(); err != nil {
		log.Fatalf("failed to create workspace root: %v", err)
	}

	var auditWriter *audit.Writer
	if cfg.Audit.Enabled {
		auditWriter, err = audit.NewWriter(filepath.Join(cfg.BaseDir, "audit"), 0, cfg.Audit.RedactSensitiveData)
		if err != nil {
			log.Fatalf("failed to open audit log: %v", err)
		}
		defer auditWriter.Close()
	}

	credVault := vault.New(filepath.Join(cfg.BaseDir, "credentials", "vault.json"), nil)
	bindings := binding.NewRegistry(credVault)

	mcpManager := mcp.NewMcpConnectionManager()
	if _, err := mcpManager.Initialize(ctx, cfg.McpServers); err != nil {
		log.Printf("one or more required MCP servers failed to initialize: %v", err)
	}
	tools := mcpregistry.NewRegistry(mcpManager)

	fs := workspace.NewFilesystem(root)
	netEngine := netpolicyEngine(cfg)

	// T1/T2 children never see the worker's own process environment: they
	// get only the core platform variables (HOME, PATH, SHELL, ...), so a
	// credential exported into the worker's shell cannot leak into the
	// untrusted isolate through os.Environ(), per spec.md's trust-boundary
	// requirement that secrets stay out of the untrusted domain.
	helperEnv := execenv.EnvMapToSlice(execenv.CreateEnv(&execenv.ShellEnvironmentPolicy{
		Inherit: execenv.InheritCore,
	}))

	dispatcher := &isolate.Dispatcher{
		Broker: &isolate.Broker{
			Tools:     tools,
			Bindings:  bindings,
			Net:       netEngine,
			NetExec:   netpolicyExecutor(),
			NetPolicy: cfg.NetworkPolicy,
			FS:        fs,
		},
		Audit:      auditWriter,
		HelperPath: cfg.HelperPath,
		Sandbox:    sandbox.NewSandboxManager(),
		Policy: &sandbox.SandboxPolicy{
			Mode:          sandbox.ModeWorkspaceWrite,
			WritableRoots: []sandbox.WritableRoot{sandbox.WritableRoot(root.Path())},
		},
		MaxSteps: cfg.MaxSteps,
		Env:      helperEnv,
	}

	notifications := notify.NewQueue()

	pkgPolicy, err := pkgapproval.NewBuiltinPolicy()
	if err != nil {
		log.Fatalf("failed to load built-in package approval policy: %v", err)
	}
	packages := pkgapproval.NewManager(pkgPolicy)

	activities := orchestrator.NewActivities(analyzer.New(), packages, tools, bindings, dispatcher, root, notifications, auditWriter)

	clientOpts, err := temporalclient.LoadClientOptions(*temporalHost, "")
	if err != nil {
		log.Fatalf("failed to load Temporal client options: %v", err)
	}
	temporalClient, err := client.Dial(clientOpts)
	if err != nil {
		log.Fatalf("failed to create Temporal client: %v", err)
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(orchestrator.CodeModeWorkflow)
	w.RegisterActivity(activities.AnalyzeSubmission)
	w.RegisterActivity(activities.PrepareExecution)
	w.RegisterActivity(activities.ExecuteIsolate)

	log.Printf("starting worker on task queue %q", cfg.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker stopped with error: %v", err)
	}
	log.Println("worker stopped")
}
