package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/tagclust/internal/config"
	"github.com/hurttlocker/tagclust/internal/logging"
	"github.com/hurttlocker/tagclust/internal/store"
)

const version = "0.1.0"

var (
	globalDBPath     string
	globalConfigPath string
	globalVerbose    bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "run":
		err = runRun(args[1:])
	case "runs", "list":
		err = runRuns(args[1:])
	case "show":
		err = runShow(args[1:])
	case "delete":
		err = runDelete(args[1:])
	case "stats":
		err = runStats(args[1:])
	case "config":
		err = runConfig(args[1:])
	case "mcp":
		err = runMCP(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("tagclust %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags pulls --db, --config and --verbose out of args, wherever
// they appear, and returns the rest.
func parseGlobalFlags(args []string) []string {
	var filtered []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--db" && i+1 < len(args):
			globalDBPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--db="):
			globalDBPath = strings.TrimPrefix(arg, "--db=")
		case arg == "--config" && i+1 < len(args):
			globalConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			globalConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--verbose":
			globalVerbose = true
		default:
			filtered = append(filtered, arg)
		}
	}
	return filtered
}

// resolveConfig layers the global flags and the given command overrides on
// top of the config file and environment, then sets up logging.
func resolveConfig(cli map[string]string) (config.ResolvedConfig, error) {
	overrides := make(map[string]string, len(cli)+1)
	for k, v := range cli {
		overrides[k] = v
	}
	if globalDBPath != "" {
		overrides["db_path"] = globalDBPath
	}
	if globalVerbose {
		overrides["log.level"] = "debug"
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: globalConfigPath,
		CLI:        overrides,
	})
	if err != nil {
		return cfg, err
	}

	logCfg := cfg.Logging()
	logCfg.Output = os.Stderr
	logging.Init(logCfg)
	return cfg, nil
}

func openStore(cfg config.ResolvedConfig) (store.Store, error) {
	s, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func printUsage() {
	fmt.Printf(`tagclust %s - cluster tags by the posts they share

Usage:
  tagclust [--db <path>] [--config <path>] [--verbose] <command> [arguments]

Commands:
  run <associations> <classifications>   Cluster tags and write the clustering table
  runs                                   List stored runs
  show <id>                              Show a stored run (ID or unique prefix)
  delete <id>                            Delete a stored run
  stats                                  Show run store statistics
  config [show|keys|path]                Show resolved configuration and its sources
  mcp                                    Serve tools over MCP (stdio)
  version                                Print version

Run Flags:
  --metric 1|2          Overlap metric: 1 co-occurrence, 2 effect direction
  --weighted            Weight matrix columns by post share
  --k-min, --k-max      Cluster counts to explore (default 2..10)
  --top-n N             Number of best counts to label (default 3)
  --seed N              Sweep seed (default 11)
  --label-seed N        Labeling seed (default: unseeded)
  --out DIR             Output directory (default .)
  --name NAME           Run name (default: association file name)
  --xlsx=false          Skip the .xlsx copy of the table
  --inertia-plots       Also plot inertia per count
  --no-plots            Skip the diagnostic plots
  --no-store            Do not record the run
  --json                Print the run summary as JSON

Global Flags:
  --db PATH             Run store (env TAGCLUST_DB, default ~/.tagclust/tagclust.db)
  --config PATH         Config file (default ~/.tagclust/config.yaml)
  --verbose             Debug logging
  -h, --help            Show this help message
  -v, --version         Print version
`, version)
}
