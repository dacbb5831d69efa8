package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makeflow/makeflow-engine/internal/backend"
	"github.com/makeflow/makeflow-engine/internal/backend/cluster"
	"github.com/makeflow/makeflow-engine/internal/backend/local"
	"github.com/makeflow/makeflow-engine/internal/backend/workerpool"
	"github.com/makeflow/makeflow-engine/internal/build"
	"github.com/makeflow/makeflow-engine/internal/catalog"
	"github.com/makeflow/makeflow-engine/internal/dagfile"
	"github.com/makeflow/makeflow-engine/internal/engine"
	"github.com/makeflow/makeflow-engine/internal/engineconfig"
	"github.com/makeflow/makeflow-engine/internal/enginelog"
	"github.com/makeflow/makeflow-engine/internal/telemetry"
)

// exitCodeFor maps any error returned from rootCmd.RunE to a process
// exit status: 0 only for nil, 1 for everything else (spec.md §6).
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func flagConfig(cmd *cobra.Command, args []string) engineconfig.Config {
	flags := cmd.Flags()
	cfg := engineconfig.Config{}

	cfg.Clean, _ = flags.GetBool("clean")
	if t, _ := flags.GetString("backend-type"); t != "" {
		cfg.BackendType = engineconfig.BackendType(t)
	}
	cfg.LocalMax, _ = flags.GetInt("local-max")
	cfg.RemoteMax, _ = flags.GetInt("remote-max")
	cfg.Port, _ = flags.GetInt("port")
	cfg.SyntaxOnly, _ = flags.GetBool("syntax-only")
	cfg.EmitGraphviz, _ = flags.GetBool("graphviz")
	cfg.BatchOptions, _ = flags.GetString("batch-options")
	cfg.SubmitTimeout, _ = flags.GetDuration("submit-timeout")
	cfg.RetryMax, _ = flags.GetInt("retry-max")
	retry, _ := flags.GetBool("retry")
	cfg.RetryEnabled = retry || cfg.RetryMax > 0
	cfg.EngineLogPath, _ = flags.GetString("engine-log")
	cfg.BackendLogPath, _ = flags.GetString("backend-log")
	cfg.SkipPrecheck, _ = flags.GetBool("skip-precheck")
	cfg.PreserveSymlinks, _ = flags.GetBool("preserve-symlinks")
	cfg.AnnounceProjectName, _ = flags.GetString("announce-project")
	cfg.Priority, _ = flags.GetInt("priority")
	cfg.AutoProvisionBy, _ = flags.GetString("auto-provision")
	cfg.DebugSubsystems, _ = flags.GetString("debug-subsystems")
	cfg.DebugOutputPath, _ = flags.GetString("debug-output")

	cfg.DAGFile = "./Makeflow"
	if len(args) == 1 {
		cfg.DAGFile = args[0]
	}
	return cfg
}

// selectRemote builds the BackendAdapter for the engine's default
// (non-"LOCAL") execution tier, per the configured BackendType.
func selectRemote(ctx context.Context, cfg engineconfig.Config, localBackend *local.Backend) (backend.Adapter, func() error, error) {
	switch cfg.BackendType {
	case engineconfig.BackendCluster:
		b, err := cluster.New(ctx, cluster.Config{
			DockerHost: cfg.BatchOptions,
			Image:      "makeflow-worker:latest",
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case engineconfig.BackendWorkerPool:
		b, err := workerpool.Dial(ctx, workerpool.Config{
			ManagerURL: fmt.Sprintf("ws://localhost:%d/control", cfg.Port),
			Bucket:     "makeflow",
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	default:
		return localBackend, func() error { return nil }, nil
	}
}

func runMakeflow(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", build.AppName, build.Version)
		return nil
	}

	cliCfg := flagConfig(cmd, args)
	cfg, err := engineconfig.Load(configFile, cliCfg)
	if err != nil {
		return err
	}

	logger, closers, err := enginelog.New(enginelog.Options{
		EnginePath:  cfg.EngineLogPath,
		BackendPath: cfg.BackendLogPath,
		Debug:       cfg.DebugSubsystems != "",
	})
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	shutdownTracing := telemetry.Configure()
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	localBackend := local.New()
	if cfg.LocalMax <= 0 {
		cfg.LocalMax = local.DefaultMax()
	}

	remoteBackend, closeRemote, err := selectRemote(ctx, cfg, localBackend)
	if err != nil {
		return err
	}
	defer closeRemote()

	if err := dagfile.LoadDotEnv(cfg.DotEnvPath); err != nil {
		return err
	}

	e := engine.New(cfg, logger, remoteBackend)
	if err := e.Load(); err != nil {
		return err
	}

	if cfg.EmitGraphviz {
		return e.Graph.WriteGraphviz(cmd.OutOrStdout())
	}

	if cfg.SyntaxOnly {
		return e.Precheck()
	}

	if cfg.Clean {
		return e.Clean(cmd.OutOrStdout())
	}

	if err := e.Precheck(); err != nil {
		return err
	}
	if err := e.Recover(); err != nil {
		return err
	}
	defer e.Close()

	if n := e.SuggestedWorkerCount(); n > 0 {
		logger.Info("auto-provisioning suggests worker count", "by", cfg.AutoProvisionBy, "count", n)
	}

	if cfg.AnnounceProjectName != "" {
		announcer := &catalog.Announcer{
			Project:  cfg.AnnounceProjectName,
			Port:     cfg.Port,
			Priority: cfg.Priority,
			Host:     "catalog.cse.nd.edu:9097",
		}
		if err := announcer.Start(); err == nil {
			defer announcer.Stop()
		}
	}

	listenSignals(ctx, e)

	runErr := e.Run(ctx)
	switch runErr {
	case nil:
		fmt.Fprintln(cmd.OutOrStdout(), "nothing left to do")
		return nil
	default:
		return runErr
	}
}
