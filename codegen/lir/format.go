// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lir

import (
	"fmt"
	"strings"

	"github.com/gomlx/convlower/types/xslices"
)

// String returns the textual form of the function, see Module.Format.
func (fn *Function) String() string {
	var sb strings.Builder
	params := xslices.Map(fn.params, func(p *Param) string {
		if fn.external {
			return p.typ.String()
		}
		return fmt.Sprintf("%s %s", p.typ, p)
	})
	keyword := "define"
	if fn.external {
		keyword = "declare"
	}
	_, _ = fmt.Fprintf(&sb, "%s %s @%s(%s)", keyword, fn.ret, fn.name, strings.Join(params, ", "))
	if attrs := fn.Attributes.String(); attrs != "" {
		sb.WriteString(" " + attrs)
	}
	if fn.external {
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(" {\n")
	for _, block := range fn.blocks {
		sb.WriteString(block.name + ":\n")
		for _, instr := range block.instructions {
			sb.WriteString("  " + instr.String() + "\n")
		}
		if block.terminator != nil {
			sb.WriteString("  " + block.terminator.String() + "\n")
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// Format returns the textual form of the module: its functions sorted by name, separated by empty lines.
func (m *Module) Format() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "; module %s\n", m.name)
	for _, fn := range m.Functions() {
		sb.WriteString("\n")
		sb.WriteString(fn.String())
	}
	return sb.String()
}

// String implements fmt.Stringer. It is the same as Format.
func (m *Module) String() string { return m.Format() }
