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

// Package ui holds the terminal presentation helpers shared by
// cmd/sfcorpus's subcommands: color gating and progress bars. Kept
// separate from the command files so --no-color/NO_COLOR/--json/--quiet
// logic lives in one place instead of being re-derived per subcommand.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// InitColors disables color output when noColor is true, when NO_COLOR is
// set in the environment, or when stdout is not a terminal. It must be
// called once during flag processing, before any Sprint-family color
// helper below is used.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)
)

// Success formats s in green (a no-op once color.NoColor is set).
func Success(format string, args ...interface{}) string { return successColor.Sprintf(format, args...) }

// Warn formats s in yellow.
func Warn(format string, args ...interface{}) string { return warnColor.Sprintf(format, args...) }

// Error formats s in bold red.
func Error(format string, args ...interface{}) string { return errorColor.Sprintf(format, args...) }

// Dim formats s faintly, for secondary detail lines.
func Dim(format string, args ...interface{}) string { return dimColor.Sprintf(format, args...) }
