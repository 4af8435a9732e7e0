// util/error.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorLogger collects the problems found while validating parsed JSON
// (the configuration file, the maps index) so that validation can go on
// after the first one. Push and Pop maintain the path to the item being
// checked, which prefixes each reported error.
type ErrorLogger struct {
	path   []string
	errors []error
}

// PathError is an error reported at a position of the ErrorLogger's path.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

func (e *ErrorLogger) Push(s string) {
	e.path = append(e.path, s)
}

func (e *ErrorLogger) Pop() {
	e.path = e.path[:len(e.path)-1]
}

func (e *ErrorLogger) ErrorString(s string, args ...any) {
	e.Error(fmt.Errorf(s, args...))
}

func (e *ErrorLogger) Error(err error) {
	e.errors = append(e.errors, &PathError{Path: strings.Join(e.path, " / "), Err: err})
}

func (e *ErrorLogger) HaveErrors() bool {
	return len(e.errors) > 0
}

// Errors returns the reported errors, each a *PathError.
func (e *ErrorLogger) Errors() []error {
	return e.errors
}

// String returns one line per error.
func (e *ErrorLogger) String() string {
	if err := e.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Err returns nil if no errors have been reported.
func (e *ErrorLogger) Err() error {
	return errors.Join(e.errors...)
}
