// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gomlx/convlower/graph/graphtext"
	"github.com/pkg/errors"
)

// formatError formats err for the terminal. Errors with a position in the module text show the offending line
// with a marker under the column.
func formatError(filename, text string, err error) string {
	errorColor := color.New(color.FgRed, color.Bold).SprintFunc()
	var positioned graphtext.PositionedError
	if !errors.As(err, &positioned) {
		return fmt.Sprintf("%s: %v\n", errorColor("error"), err)
	}

	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	pos := positioned.Position()
	lines := strings.Split(text, "\n")
	width := len(fmt.Sprintf("%d", pos.Line+1))
	indent := strings.Repeat(" ", width)

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s: %s\n", errorColor("error"), positioned.Message())
	_, _ = fmt.Fprintf(&sb, "%s %s %s:%d:%d\n", indent, dim("-->"), filename, pos.Line, pos.Column)
	if pos.Line < 1 || pos.Line > len(lines) {
		return sb.String()
	}
	_, _ = fmt.Fprintf(&sb, "%s %s\n", indent, dim("│"))
	if pos.Line > 1 {
		_, _ = fmt.Fprintf(&sb, "%s %s %s\n", dim(fmt.Sprintf("%*d", width, pos.Line-1)), dim("│"), lines[pos.Line-2])
	}
	_, _ = fmt.Fprintf(&sb, "%s %s %s\n", bold(fmt.Sprintf("%*d", width, pos.Line)), dim("│"), lines[pos.Line-1])
	marker := strings.Repeat(" ", max(0, pos.Column-1)) + errorColor("^")
	_, _ = fmt.Fprintf(&sb, "%s %s %s\n", indent, dim("│"), marker)
	return sb.String()
}
