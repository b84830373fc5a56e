package config

import (
	"reflect"
	"slices"
	"strings"
)

const sep = "."

// GetStructKeys returns the dotted key of every leaf of a nested struct type.  A key is the
// tag value or else the field name; a tag ending with ",<squashValue>" merges the field into
// its parent.  Pointers are followed, maps and slices are leaves.
func GetStructKeys(typ reflect.Type, tag, squashValue string) []string {
	var keys []string
	walkStruct(typ, tag, ","+squashValue, nil, func(key []string, _ reflect.StructField) {
		keys = append(keys, strings.Join(key, sep))
	})
	return keys
}

// ValidateMissingRequiredKeys returns the keys of value tagged validate:"required" that
// hold a zero value or an empty map, slice or string.
func ValidateMissingRequiredKeys(value interface{}, tag, squashValue string) []string {
	var missing []string
	var walk func(v reflect.Value, prefix []string)
	walk = func(v reflect.Value, prefix []string) {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			name, squash := fieldName(field, tag, ","+squashValue)
			key := slices.Clone(prefix)
			if !squash {
				key = append(key, name)
			}
			fv := v.Field(i)
			if field.Tag.Get("validate") == "required" && isEmpty(fv) {
				missing = append(missing, strings.Join(key, sep))
				continue
			}
			walk(fv, key)
		}
	}
	walk(reflect.ValueOf(value), nil)
	return missing
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	}
	return v.IsZero()
}

func fieldName(field reflect.StructField, tag, squashSuffix string) (string, bool) {
	name, ok := field.Tag.Lookup(tag)
	if !ok {
		return field.Name, false
	}
	if strings.HasSuffix(name, squashSuffix) {
		return strings.TrimSuffix(name, squashSuffix), true
	}
	return name, false
}

func walkStruct(typ reflect.Type, tag, squashSuffix string, prefix []string, leaf func([]string, reflect.StructField)) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name, squash := fieldName(field, tag, squashSuffix)
		key := slices.Clone(prefix)
		if !squash {
			key = append(key, name)
		}
		ft := field.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			walkStruct(ft, tag, squashSuffix, key, leaf)
			continue
		}
		leaf(key, field)
	}
}
