package config

import (
	"reflect"
	"strings"
	"time"
)

// sampleView maps the config to nested maps keyed by yaml tag names, with
// durations rendered in their string form so the sample can be fed back.
func sampleView(cfg any) map[string]any {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	t := v.Type()

	out := make(map[string]any, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}

		switch {
		case field.Type() == durationType:
			out[name] = time.Duration(field.Int()).String()
		case field.Kind() == reflect.Struct:
			out[name] = sampleView(field.Interface())
		default:
			out[name] = field.Interface()
		}
	}
	return out
}
