// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jllopis/perpetua/pkg/core"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Kind names an event type with a known payload shape.
type Kind string

const (
	KindGoalCreate    Kind = "goal.create"
	KindGoalProgress  Kind = "goal.progress"
	KindContextUpdate Kind = "context.update"
	KindMemoryAdd     Kind = "memory.add"

	// KindGeneric covers every other event type. Its payload is opaque.
	KindGeneric Kind = "generic"
)

// BuiltinKinds lists the kinds with a schema, in a stable order.
var BuiltinKinds = []Kind{KindGoalCreate, KindGoalProgress, KindContextUpdate, KindMemoryAdd}

// KindOf maps an event type to its kind, falling back to KindGeneric.
func KindOf(eventType string) Kind {
	for _, k := range BuiltinKinds {
		if string(k) == eventType {
			return k
		}
	}
	return KindGeneric
}

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	compiledSchemas map[Kind]*gojsonschema.Schema
	compileOnce     sync.Once
	compileErr      error
)

func schemas() (map[Kind]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchemas = make(map[Kind]*gojsonschema.Schema, len(BuiltinKinds))
		for _, k := range BuiltinKinds {
			raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
			if err != nil {
				compileErr = fmt.Errorf("reading %s schema: %w", k, err)
				return
			}
			s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
			if err != nil {
				compileErr = fmt.Errorf("compiling %s schema: %w", k, err)
				return
			}
			compiledSchemas[k] = s
		}
	})
	return compiledSchemas, compileErr
}

// Schema returns the raw JSON schema for a built-in kind.
func Schema(k Kind) ([]byte, bool) {
	raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Validate checks an event at the boundary. Built-in kinds must match their
// schema; generic events only need a type.
func Validate(event core.Event) error {
	if strings.TrimSpace(event.Type) == "" {
		return errors.New(errors.CodeInvalidInput, "event type is required", nil)
	}
	kind := KindOf(event.Type)
	if kind == KindGeneric {
		return nil
	}

	all, err := schemas()
	if err != nil {
		return errors.New(errors.CodeInternal, "event schemas unavailable", err)
	}
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	result, err := all[kind].Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "event payload is not valid JSON", err).
			WithAttribute("event_type", event.Type)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(errors.CodeInvalidInput, "event payload does not match schema", nil).
		WithAttribute("event_type", event.Type).
		WithContext("violations", msgs)
}

// GoalCreate is the payload of goal.create.
type GoalCreate struct {
	Description     string     `mapstructure:"description"`
	SuccessCriteria []string   `mapstructure:"success_criteria"`
	Deadline        *time.Time `mapstructure:"deadline"`
}

// GoalProgress is the payload of goal.progress.
type GoalProgress struct {
	GoalID   string  `mapstructure:"goal_id"`
	Progress float64 `mapstructure:"progress"`
	Note     string  `mapstructure:"note"`
}

// ContextUpdate is the payload of context.update. Key/Value and Updates may
// be combined; Updates is applied first.
type ContextUpdate struct {
	Key     string         `mapstructure:"key"`
	Value   any            `mapstructure:"value"`
	Updates map[string]any `mapstructure:"updates"`
}

// Entries flattens the payload into the key/value pairs to store.
func (c ContextUpdate) Entries() map[string]any {
	out := make(map[string]any, len(c.Updates)+1)
	for k, v := range c.Updates {
		out[k] = v
	}
	if c.Key != "" {
		out[c.Key] = c.Value
	}
	return out
}

// MemoryAdd is the payload of memory.add.
type MemoryAdd struct {
	Content  string         `mapstructure:"content"`
	Kind     string         `mapstructure:"kind"`
	Metadata map[string]any `mapstructure:"metadata"`
}

// Decode validates event and decodes its data into out, which must be a
// pointer to one of the payload structs.
func Decode(event core.Event, out any) error {
	if err := Validate(event); err != nil {
		return err
	}
	return DecodeMap(event.Data, out)
}

// DecodeMap decodes a loosely typed map into out. RFC 3339 strings are
// converted to time.Time.
func DecodeMap(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.New(errors.CodeInternal, "building payload decoder", err)
	}
	if err := dec.Decode(in); err != nil {
		return errors.New(errors.CodeInvalidInput, "decoding event payload", err)
	}
	return nil
}
