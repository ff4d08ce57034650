package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/golobby/cast"
)

const tagDefault = "default"

var durationType = reflect.TypeOf(time.Duration(0))

// ProcessDefaults fills zero-valued fields from their `default` struct tags.
// Nested structs are processed recursively; non-zero fields are left alone.
func ProcessDefaults(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	return processStructDefaults(v)
}

func structValue(cfg any) (reflect.Value, error) {
	if cfg == nil {
		return reflect.Value{}, ErrConfigNil
	}
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w, got %T", ErrConfigNotPointer, cfg)
	}
	return v.Elem(), nil
}

func processStructDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}

		defaultVal, ok := fieldType.Tag.Lookup(tagDefault)
		if !ok || !field.IsZero() {
			continue
		}
		if err := setFromString(field, defaultVal); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrDefaultValueMalformed, fieldType.Name, err)
		}
	}
	return nil
}

// setFromString converts raw to the field's type and assigns it.
func setFromString(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", raw, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFieldType, field.Type())
	}

	converted, err := cast.FromType(raw, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %s: %w", raw, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}
