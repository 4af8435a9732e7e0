// log/stack.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package log

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const maxFrames = 16

// StackFrame is one entry of the "callstack" attribute.
type StackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (f StackFrame) String() string {
	return fmt.Sprintf("%s:%d:%s", f.File, f.Line, f.Function)
}

// callstack returns up to maxFrames frames, starting skip frames above
// its caller and stopping at main.main.
func callstack(skip int) []StackFrame {
	var pcs [maxFrames]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		stack = append(stack, StackFrame{
			File:     filepath.Base(frame.File),
			Line:     frame.Line,
			Function: shortFunctionName(frame.Function),
		})
		if !more || frame.Function == "main.main" {
			return stack
		}
	}
}

func shortFunctionName(fn string) string {
	if rest, ok := strings.CutPrefix(fn, "github.com/mmp/enroute/"); ok {
		return rest
	}
	return strings.TrimPrefix(fn, "main.")
}
