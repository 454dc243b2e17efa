// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sort"

	"github.com/jllopis/perpetua/pkg/errors"
)

// cliError wraps a PerpetuaError with a hint for the operator.
type cliError struct {
	*errors.PerpetuaError
	hint string
}

func (e *cliError) Error() string {
	msg := e.PerpetuaError.Error()
	if e.hint != "" {
		msg += "\n  Hint: " + e.hint
	}
	return msg
}

func (e *cliError) Unwrap() error { return e.PerpetuaError }

// exitError ends the process with code without printing anything.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func withHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return &cliError{PerpetuaError: errors.AsPerpetuaError(err), hint: hint}
}

func wrapConfigError(err error, path string) error {
	return withHint(err, fmt.Sprintf("check %s and PERPETUA_* environment variables", path))
}

func wrapManifestError(err error, path string) error {
	if path == "" {
		return withHint(err, "set agents.manifest in the config file or pass --set agents.manifest=<path>")
	}
	return withHint(err, fmt.Sprintf("check the agent definitions in %s", path))
}

func printError(w io.Writer, err error, asJSON bool) {
	var pe *errors.PerpetuaError
	if !stderrors.As(err, &pe) {
		// cobra usage errors and the like
		pe = errors.New(errors.CodeInvalidInput, err.Error(), nil)
	}
	hint := ""
	var ce *cliError
	if stderrors.As(err, &ce) {
		hint = ce.hint
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":       pe.Code,
				"message":    pe.Message,
				"cause":      cause(pe),
				"attributes": pe.Attributes,
				"hint":       hint,
			},
		})
		return
	}
	fmt.Fprintf(w, "Error: %s\n", pe.Error())
	keys := make([]string, 0, len(pe.Attributes))
	for k := range pe.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, pe.Attributes[k])
	}
	if hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
}

func cause(pe *errors.PerpetuaError) string {
	if pe.Err == nil {
		return ""
	}
	return pe.Err.Error()
}
