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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/arcspan/sfcorpus/pkg/config"
)

// runConfigCmd executes the 'config' CLI command: it prints the fully
// resolved configuration (defaults, merged with the YAML file, merged
// with environment variables, merged with any CLI flag overrides given
// on this invocation) so operators can confirm what a 'run' would
// actually use without running it.
//
// Global flags from main:
//   - --json: print as JSON instead of YAML
//
// Examples:
//
//	sfcorpus config
//	sfcorpus config --json
//	sfcorpus config --tenant acme --dry-run
func runConfigCmd(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	fv := config.BindFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: sfcorpus config [options]

Description:
  Print the fully resolved configuration: built-in defaults, merged
  with the YAML file, environment variables, and any flags given here,
  in that increasing order of priority. Useful for confirming what a
  'run' invocation would actually use.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err, globals.JSON)
	}
	config.ApplyFlags(cfg, fv)
	validationErr := cfg.Validate()
	if validationErr != nil && !globals.JSON {
		fmt.Fprintf(os.Stderr, "warning: this configuration would fail at run time: %s\n\n", validationErr)
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			fatal(fmt.Errorf("encode config as json: %w", err), globals.JSON)
		}
		return
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fatal(fmt.Errorf("encode config as yaml: %w", err), globals.JSON)
	}
	os.Stdout.Write(data)
}
