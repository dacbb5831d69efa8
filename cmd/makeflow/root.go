package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd is the single entry point: makeflow has no subcommands, only
// flags, mirroring the original tool's flat argv-parsing surface.
var rootCmd = &cobra.Command{
	Use:   "makeflow [flags] [DAG file]",
	Short: "Drives a declarative DAG of shell commands to completion",
	Long: `makeflow [options] [DAG file]

Parses a Makeflow-style DAG description, resolves file dependencies,
and drives every node to completion across a local fork pool, a
cluster batch queue, or a distributed worker pool, recovering
idempotently from a crash via its append-only log.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMakeflow,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolP("clean", "c", false, "remove all target files and symlinks, then exit")
	flags.StringP("backend-type", "T", "", "backend: local, cluster, or wq (default local)")
	flags.IntP("local-max", "j", 0, "maximum concurrently running local jobs")
	flags.IntP("remote-max", "J", 0, "maximum concurrently running remote jobs")
	flags.IntP("port", "p", 0, "worker-pool control-channel / catalog port")
	flags.BoolP("syntax-only", "C", false, "check DAG syntax and invariant I1, then exit")
	flags.BoolP("graphviz", "D", false, "emit the DAG in Graphviz digraph form on stdout, then exit")
	flags.StringP("batch-options", "B", "", "backend-specific submit options passthrough")
	flags.DurationP("submit-timeout", "S", 0, "submission retry deadline")
	flags.IntP("retry-max", "r", 0, "retry cap; also enables retry")
	flags.BoolP("retry", "R", false, "enable retry with the default cap")
	flags.StringP("engine-log", "l", "", "engine diagnostic log path")
	flags.StringP("backend-log", "L", "", "backend diagnostic log path")
	flags.BoolP("skip-precheck", "A", false, "skip the filesystem pre-check of source files")
	flags.BoolP("preserve-symlinks", "P", false, "keep sandbox translation symlinks after a run")
	flags.StringP("announce-project", "N", "", "catalog project name to announce")
	flags.IntP("priority", "E", 0, "catalog announce priority")
	flags.StringP("auto-provision", "a", "", "auto-provision workers by width or group")
	flags.StringP("debug-subsystems", "d", "", "comma-separated debug subsystems to enable")
	flags.StringP("debug-output", "o", "", "debug output path")
	flags.BoolP("version", "v", false, "print the version and exit")

	flags.StringVar(&configFile, "config", "", "optional YAML config file (.makeflow.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
