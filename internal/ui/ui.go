// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui renders the small amount of human-facing banner text the CLI
// prints outside of progress bars: success/warning lines, section headers,
// and dimmed labels. It is deliberately thin — a full interactive menu or
// terminal dashboard isn't reimplemented here, only the color/TTY plumbing
// the CLI commands call.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	headerColor  = color.New(color.FgCyan, color.Bold)
	dimColor     = color.New(color.Faint)
)

// InitColors enables or disables ANSI color output. It is called once
// from main() after flags are parsed.
func InitColors(noColor bool) {
	disable := noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd())
	color.NoColor = disable
}

func Success(msg string) {
	successColor.Fprintln(os.Stdout, "✓ "+msg)
}

func Successf(format string, args ...interface{}) {
	Success(fmt.Sprintf(format, args...))
}

func Warning(msg string) {
	warningColor.Fprintln(os.Stderr, "! "+msg)
}

func Warningf(format string, args ...interface{}) {
	Warning(fmt.Sprintf(format, args...))
}

func Info(msg string) {
	fmt.Fprintln(os.Stdout, msg)
}

func Infof(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func Header(msg string) {
	headerColor.Fprintln(os.Stdout, msg)
}

func SubHeader(msg string) {
	fmt.Fprintln(os.Stdout, msg)
}

func Label(key, value string) {
	dimColor.Fprintf(os.Stdout, "%-22s", key+":")
	fmt.Fprintln(os.Stdout, value)
}

func CountText(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

func DimText(msg string) string {
	return dimColor.Sprint(msg)
}

// Banner prints a title and indented lines to stderr. The import command
// uses it for the cancellation banner shown after the publish loop has
// snapshotted progress, telling the user how to resume.
func Banner(title string, lines ...string) {
	headerColor.Fprintln(os.Stderr, title)
	for _, l := range lines {
		fmt.Fprintln(os.Stderr, "  "+l)
	}
}
