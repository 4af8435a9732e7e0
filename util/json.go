// util/json.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// jsonPosition converts a byte offset in b to a 1-based line and column.
func jsonPosition(b []byte, offset int64) (line, col int) {
	offset = min(offset, int64(len(b)))
	before := b[:offset]
	line = 1 + strings.Count(string(before), "\n")
	if i := strings.LastIndexByte(string(before), '\n'); i >= 0 {
		return line, len(before) - i
	}
	return line, len(before) + 1
}

// UnmarshalJSONBytes is json.Unmarshal, with syntax and type errors
// reported by line and column so that users can fix their files.
func UnmarshalJSONBytes[T any](b []byte, out *T) error {
	err := json.Unmarshal(b, out)

	var serr *json.SyntaxError
	var terr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &serr):
		line, col := jsonPosition(b, serr.Offset)
		return fmt.Errorf("line %d, column %d: %w", line, col, err)
	case errors.As(err, &terr):
		line, col := jsonPosition(b, terr.Offset)
		field := terr.Field
		if field == "" {
			field = "value"
		}
		return fmt.Errorf("line %d, column %d: %s: expected %s, found %s", line, col, field, terr.Type, terr.Value)
	default:
		return err
	}
}

// CheckJSON reports the entries of contents that don't correspond to a
// field of T, or whose JSON type doesn't fit the field. Such entries are
// silently ignored or rejected wholesale by json.Unmarshal.
func CheckJSON[T any](contents []byte, e *ErrorLogger) {
	var v any
	if err := UnmarshalJSONBytes(contents, &v); err != nil {
		e.Error(err)
		return
	}
	c := jsonChecker{e: e, fields: make(map[reflect.Type]map[string]reflect.Type)}
	c.check(v, reflect.TypeFor[T]())
}

type jsonChecker struct {
	e *ErrorLogger

	// JSON name to field type, per struct type
	fields map[reflect.Type]map[string]reflect.Type
}

func (c *jsonChecker) structFields(ty reflect.Type) map[string]reflect.Type {
	if f, ok := c.fields[ty]; ok {
		return f
	}
	f := make(map[string]reflect.Type)
	for _, field := range reflect.VisibleFields(ty) {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			if n, _, _ := strings.Cut(tag, ","); n != "" {
				name = n
			}
		}
		f[name] = field.Type
	}
	c.fields[ty] = f
	return f
}

func (c *jsonChecker) check(v any, ty reflect.Type) {
	for ty.Kind() == reflect.Pointer {
		ty = ty.Elem()
	}
	if v == nil {
		// null is accepted for any type.
		return
	}

	// Types with their own text or JSON decoding, like units.DistanceUnit,
	// are checked by json.Unmarshal.
	if reflect.PointerTo(ty).Implements(reflect.TypeFor[json.Unmarshaler]()) ||
		reflect.PointerTo(ty).Implements(reflect.TypeFor[interface{ UnmarshalText([]byte) error }]()) {
		return
	}

	ok := true
	switch ty.Kind() {
	case reflect.Slice, reflect.Array:
		var items []any
		if items, ok = v.([]any); ok {
			for i, item := range items {
				c.e.Push(fmt.Sprintf("[%d]", i))
				c.check(item, ty.Elem())
				c.e.Pop()
			}
		}

	case reflect.Map:
		var m map[string]any
		if m, ok = v.(map[string]any); ok {
			for _, k := range SortedMapKeys(m) {
				c.e.Push(k)
				c.check(m[k], ty.Elem())
				c.e.Pop()
			}
		}

	case reflect.Struct:
		var m map[string]any
		if m, ok = v.(map[string]any); ok {
			fields := c.structFields(ty)
			for _, k := range SortedMapKeys(m) {
				fty, known := fields[k]
				if !known {
					c.e.ErrorString("unknown entry %q; is it misspelled?", k)
					continue
				}
				c.e.Push(k)
				c.check(m[k], fty)
				c.e.Pop()
			}
		}

	case reflect.String:
		_, ok = v.(string)
	case reflect.Bool:
		_, ok = v.(bool)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		_, ok = v.(float64)
	}

	if !ok {
		c.e.ErrorString("expected %s, found %T", ty.Kind(), v)
	}
}
