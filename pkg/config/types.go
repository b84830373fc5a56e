package config

import (
	"reflect"
	"strings"
)

// Strings is a []string that decodes from a list or from one comma separated string, so that
// VCSGATE_LISTEN=tcp://a,unix:/b works.
type Strings []string

var (
	stringsType     = reflect.TypeOf(Strings{})
	stringType      = reflect.TypeOf("")
	stringSliceType = reflect.TypeOf([]string{})
	anySliceType    = reflect.TypeOf([]interface{}{})
)

// DecodeStrings is a mapstructure.DecodeHookFuncValue for Strings.
func DecodeStrings(from reflect.Value, to reflect.Value) (interface{}, error) {
	if to.Type() != stringsType {
		return from.Interface(), nil
	}
	switch from.Type() {
	case stringSliceType:
		return Strings(from.Interface().([]string)), nil
	case stringType:
		s := from.String()
		if s == "" {
			return Strings{}, nil
		}
		return Strings(strings.Split(s, ",")), nil
	case anySliceType:
		values := from.Interface().([]interface{})
		out := make(Strings, 0, len(values))
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return from.Interface(), nil
			}
			out = append(out, s)
		}
		return out, nil
	}
	return from.Interface(), nil
}
