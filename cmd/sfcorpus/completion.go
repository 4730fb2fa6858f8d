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
	"fmt"
	"os"
)

const bashCompletion = `# bash completion for sfcorpus
_sfcorpus() {
    local cur prev commands
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"
    commands="run status config completion"

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "${commands}" -- "${cur}") )
        return 0
    fi

    case "${prev}" in
        --phases)
            COMPREPLY=( $(compgen -W "enumerate describe stats automation security org-security emit upload" -- "${cur}") )
            return 0
            ;;
        completion)
            COMPREPLY=( $(compgen -W "bash zsh fish" -- "${cur}") )
            return 0
            ;;
    esac

    COMPREPLY=( $(compgen -W "--json --no-color --verbose --quiet --config --version --phases --resume --clear-cache --dry-run --max-workers --cache-ttl-hours --cache-dir --output-dir --embed-batch --incremental --corpus-namespace --metrics-addr" -- "${cur}") )
}
complete -F _sfcorpus sfcorpus
`

const zshCompletion = `#compdef sfcorpus

_sfcorpus() {
    local -a commands
    commands=(
        'run:Run the extraction/ingestion pipeline'
        'status:Show the last run'"'"'s progress and cache statistics'
        'config:Show the fully resolved configuration'
        'completion:Generate shell completion script'
    )

    if (( CURRENT == 2 )); then
        _describe 'command' commands
        return
    fi

    _arguments \
        '--json[Output in JSON format]' \
        '--no-color[Disable color output]' \
        '(-v --verbose)'{-v,--verbose}'[Increase verbosity]' \
        '(-q --quiet)'{-q,--quiet}'[Suppress non-essential output]' \
        '(-c --config)'{-c,--config}'[Path to config file]:file:_files' \
        '(-V --version)'{-V,--version}'[Show version and exit]' \
        '--phases[Comma-separated phase selector]' \
        '--dry-run[Emit the corpus without uploading]' \
        '--resume[Resume from the progress store]' \
        '--clear-cache[Clear the on-disk cache before running]' \
        '--metrics-addr[Expose Prometheus metrics at this address]'
}

_sfcorpus "$@"
`

const fishCompletion = `# fish completion for sfcorpus
complete -c sfcorpus -f
complete -c sfcorpus -n '__fish_use_subcommand' -a run -d 'Run the extraction/ingestion pipeline'
complete -c sfcorpus -n '__fish_use_subcommand' -a status -d "Show the last run's progress and cache statistics"
complete -c sfcorpus -n '__fish_use_subcommand' -a config -d 'Show the fully resolved configuration'
complete -c sfcorpus -n '__fish_use_subcommand' -a completion -d 'Generate shell completion script'

complete -c sfcorpus -l json -d 'Output in JSON format'
complete -c sfcorpus -l no-color -d 'Disable color output'
complete -c sfcorpus -s v -l verbose -d 'Increase verbosity'
complete -c sfcorpus -s q -l quiet -d 'Suppress non-essential output'
complete -c sfcorpus -s c -l config -d 'Path to config file' -r
complete -c sfcorpus -s V -l version -d 'Show version and exit'
complete -c sfcorpus -l phases -d 'Comma-separated phase selector'
complete -c sfcorpus -l dry-run -d 'Emit the corpus without uploading'
complete -c sfcorpus -l resume -d 'Resume from the progress store'
complete -c sfcorpus -l clear-cache -d 'Clear the on-disk cache before running'
complete -c sfcorpus -l metrics-addr -d 'Expose Prometheus metrics at this address' -r
`

// runCompletion executes the 'completion' CLI command: it writes a shell
// completion script for the named shell to stdout.
//
// Examples:
//
//	sfcorpus completion bash > /etc/bash_completion.d/sfcorpus
//	sfcorpus completion zsh > "${fpath[1]}/_sfcorpus"
//	sfcorpus completion fish > ~/.config/fish/completions/sfcorpus.fish
func runCompletion(args []string, globals GlobalFlags) {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: sfcorpus completion {bash|zsh|fish}\n")
		os.Exit(1)
	}

	var script string
	switch args[0] {
	case "bash":
		script = bashCompletion
	case "zsh":
		script = zshCompletion
	case "fish":
		script = fishCompletion
	default:
		fatal(fmt.Errorf("unknown shell %q: expected bash, zsh, or fish", args[0]), globals.JSON)
	}

	fmt.Print(script)
}
