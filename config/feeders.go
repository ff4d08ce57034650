package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Feeder populates a configuration struct from one source.
type Feeder interface {
	Feed(target any) error
}

// YamlFeeder reads a YAML file.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a YamlFeeder for the given file.
func NewYamlFeeder(path string) YamlFeeder {
	return YamlFeeder{Path: path}
}

// Feed decodes the file into target. Keys missing from the file keep their
// current values.
func (y YamlFeeder) Feed(target any) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigFileUnreadable, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return fmt.Errorf("failed to decode yaml %s: %w", y.Path, err)
	}
	return nil
}

// TomlFeeder reads a TOML file.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a TomlFeeder for the given file.
func NewTomlFeeder(path string) TomlFeeder {
	return TomlFeeder{Path: path}
}

// Feed decodes the file into target and rejects unknown keys.
func (t TomlFeeder) Feed(target any) error {
	md, err := toml.DecodeFile(t.Path, target)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %w", ErrConfigFileUnreadable, err)
		}
		return fmt.Errorf("failed to decode toml %s: %w", t.Path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown toml keys %v in %s", ErrInvalidConfig, undecoded, t.Path)
	}
	return nil
}

// NewFileFeeder picks a feeder from the file extension.
func NewFileFeeder(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// EnvFeeder reads fields tagged `env:"NAME"` from PREFIX_NAME environment
// variables. Empty variables are ignored.
type EnvFeeder struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvFeeder creates an EnvFeeder reading variables with the given prefix.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix, lookup: os.LookupEnv}
}

// Feed populates target from the environment.
func (e EnvFeeder) Feed(target any) error {
	if e.Prefix == "" {
		return ErrEnvPrefixEmpty
	}
	v, err := structValue(target)
	if err != nil {
		return err
	}
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return e.feedStruct(v, strings.ToUpper(e.Prefix), lookup)
}

func (e EnvFeeder) feedStruct(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := e.feedStruct(field, prefix, lookup); err != nil {
				return err
			}
			continue
		}

		envTag, ok := fieldType.Tag.Lookup("env")
		if !ok {
			continue
		}
		name := prefix + "_" + strings.ToUpper(envTag)
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		if err := setFromString(field, value); err != nil {
			return fmt.Errorf("error in field '%s' from %s: %w", fieldType.Name, name, err)
		}
	}
	return nil
}
