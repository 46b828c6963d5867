// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/passes/padinsertion"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// moduleStats are the sizes of the module before and after canonicalization.
type moduleStats struct {
	nodesBefore, nodesAfter int
}

// tableWithReds is a lipgloss table where some rows are highlighted.
type tableWithReds struct {
	Table *lgtable.Table
	Count int
	Reds  map[int]bool
}

// Row appends a row, highlighted if isRed.
func (t *tableWithReds) Row(isRed bool, row ...string) {
	if isRed {
		t.Reds[t.Count] = true
	}
	t.Table.Row(row...)
	t.Count++
}

func newPlainTable(alignments ...lipgloss.Position) *tableWithReds {
	t := &tableWithReds{
		Reds: make(map[int]bool),
	}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case t.Reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	return t
}

// cropsInput returns whether the Pad inserted by the rewrite removes input elements (negative padding).
func cropsInput(rewrite padinsertion.Rewrite) bool {
	for _, axis := range rewrite.Pad.PadAxes() {
		if axis.Start < 0 || axis.End < 0 {
			return true
		}
	}
	return false
}

// liveRewrites returns the rewrites whose Pad is still in the module: a later pass may have removed it along
// with its unused convolution.
func liveRewrites(rewrites []padinsertion.Rewrite) []padinsertion.Rewrite {
	var live []padinsertion.Rewrite
	for _, rewrite := range rewrites {
		if rewrite.Pad.Computation() != nil {
			live = append(live, rewrite)
		}
	}
	return live
}

// reportRewrites renders the table of rewritten convolutions, with the rewrites that crop their input
// highlighted, followed by a summary.
func reportRewrites(envelope backends.ConvolutionEnvelope, rewrites []padinsertion.Rewrite, stats moduleStats) string {
	rewrites = liveRewrites(rewrites)
	var sb strings.Builder
	var totalBytes uint64
	if len(rewrites) > 0 {
		sb.WriteString(titleStyle.Render("Rewritten convolutions") + "\n")
		table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
		table.Table.Headers("computation", "convolution", "kind", "window before", "window after", "pad", "pad memory")
		for _, rewrite := range rewrites {
			padBytes := uint64(rewrite.Pad.Shape().Memory())
			totalBytes += padBytes
			table.Row(cropsInput(rewrite),
				rewrite.Computation,
				fmt.Sprintf("%%%d", rewrite.Conv),
				rewrite.Kind.String(),
				rewrite.Before.String(),
				rewrite.After.String(),
				fmt.Sprintf("%s %s", rewrite.Pad.Ref(), rewrite.Pad.Shape()),
				humanize.Bytes(padBytes))
		}
		sb.WriteString(table.Table.Render() + "\n")
	}

	sb.WriteString(titleStyle.Render("Summary") + "\n")
	summary := newPlainTable(lipgloss.Left, lipgloss.Right)
	summary.Row(false, "envelope", envelope.String())
	summary.Row(false, "rewritten convolutions", humanize.Comma(int64(len(rewrites))))
	summary.Row(false, "nodes before", humanize.Comma(int64(stats.nodesBefore)))
	summary.Row(false, "nodes after", humanize.Comma(int64(stats.nodesAfter)))
	summary.Row(false, "pad memory", humanize.Bytes(totalBytes))
	sb.WriteString(summary.Table.Render())
	return sb.String()
}
