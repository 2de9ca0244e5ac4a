/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package tools

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// CamelToSnake converts a camel case identifier to its dash-separated
// lower case form, the spelling used for printed field names.
func CamelToSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// PrintStructKeyVal prints the exported fields of a struct as indented
// key-value lines. Slices and maps expand one element per line, nested
// structs and timestamps render through their String method when they
// have one. Fields tagged `json:"-"` are runtime-only and skipped.
func PrintStructKeyVal(structure interface{}) {
	val := reflect.ValueOf(structure)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() || field.Tag.Get("json") == "-" {
			continue
		}
		name := CamelToSnake(field.Name)
		v := val.Field(i)

		switch v.Kind() {
		case reflect.Slice:
			if v.Len() == 0 {
				continue
			}
			fmt.Printf("  - %s:\n", name)
			for j := 0; j < v.Len(); j++ {
				fmt.Printf("    - %s\n", renderValue(v.Index(j)))
			}
		case reflect.Map:
			if v.Len() == 0 {
				continue
			}
			fmt.Printf("  - %s:\n", name)
			for _, key := range v.MapKeys() {
				fmt.Printf("    - %s: %s\n", renderValue(key), renderValue(v.MapIndex(key)))
			}
		default:
			fmt.Printf("  - %s: %s\n", name, renderValue(v))
		}
	}
}

func renderValue(v reflect.Value) string {
	switch x := v.Interface().(type) {
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return x.String()
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
