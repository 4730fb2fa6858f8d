// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the sfcorpus CLI: it enumerates a CRM tenant's
// schema, enriches it with usage/automation/security metadata, emits a
// chunked JSONL document corpus, and incrementally upserts it into a
// vector index.
//
// Usage:
//
//	sfcorpus run                    Run the full pipeline
//	sfcorpus run --phases describe  Run a subset of phases
//	sfcorpus status [--json]        Show the last run's progress and cache stats
//	sfcorpus config [--json]        Show the resolved configuration
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/arcspan/sfcorpus/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// main is the entry point for the sfcorpus CLI. It parses global flags
// and dispatches to one of the command handlers below.
//
// Global flags:
//   - --version: Display version information and exit
//   - --config: Path to the pipeline's YAML configuration file
//
// Commands:
//   - run: Run the extraction/ingestion pipeline
//   - status: Show the last run's progress and cache statistics
//   - config: Show the fully resolved configuration
//   - completion: Generate a shell completion script
func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to the pipeline config file (default: ./sfcorpus.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop parsing at the first non-flag argument (the command name), so
	// subcommand-specific flags like "run --dry-run" are passed through
	// instead of being rejected by the global flag parser.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `sfcorpus - Tenant corpus extraction & ingestion pipeline

sfcorpus enumerates a CRM tenant's schema through an authenticated CLI
bridge, enriches each object with usage statistics, automation, and
field/org-level security metadata, detects what changed since the last
run, and emits a chunked JSONL document corpus that it incrementally
upserts into a vector index.

Usage:
  sfcorpus <command> [options]

Commands:
  run           Run the extraction/ingestion pipeline
  status        Show the last run's progress and cache statistics
  config        Show the fully resolved configuration
  completion    Generate shell completion script (bash|zsh|fish)

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  -c, --config      Path to the pipeline config file
  -V, --version     Show version and exit

Examples:
  sfcorpus run                          Run the full pipeline
  sfcorpus run --phases describe,stats  Run a subset of phases
  sfcorpus run --dry-run                Emit the corpus without uploading
  sfcorpus status --json                Show progress/cache stats as JSON
  sfcorpus config --json                Show resolved configuration as JSON
  sfcorpus completion bash              Generate bash completion script

Configuration:
  Resolved from, in increasing priority: built-in defaults, the YAML
  file at --config (default ./sfcorpus.yaml), SFCORPUS_* environment
  variables, then CLI flags.

For detailed command help: sfcorpus <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("sfcorpus version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	// JSON mode auto-enables quiet to prevent progress bars corrupting
	// JSON output.
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		os.Exit(runRun(cmdArgs, *configPath, globals))
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "config":
		runConfigCmd(cmdArgs, *configPath, globals)
	case "completion":
		runCompletion(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
