package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to upper-cased keys for environment lookups.
const EnvPrefix = "DESTALINATOR_"

// Source is one layer of configuration. Lookup reports whether key is set.
type Source interface {
	Name() string
	Lookup(key string) (any, bool)
}

// EnvSource reads DESTALINATOR_<KEY> variables.
type EnvSource struct{}

// Name implements Source.
func (EnvSource) Name() string { return "env" }

// Lookup implements Source.
func (EnvSource) Lookup(key string) (any, bool) {
	return lookupEnv(EnvPrefix + strings.ToUpper(key))
}

// LegacyEnvSource reads un-prefixed <KEY> variables and warns that they are
// deprecated.
type LegacyEnvSource struct {
	Log *slog.Logger
}

// Name implements Source.
func (LegacyEnvSource) Name() string { return "legacy env" }

// Lookup implements Source.
func (s LegacyEnvSource) Lookup(key string) (any, bool) {
	name := strings.ToUpper(key)
	v, ok := lookupEnv(name)
	if ok && s.Log != nil {
		s.Log.Warn("deprecated environment variable, use the prefixed form",
			"variable", name, "replacement", EnvPrefix+name)
	}
	return v, ok
}

func lookupEnv(name string) (any, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil, false
	}
	return v, true
}

// FileSource reads keys from a YAML configuration file.
type FileSource struct {
	path string
	v    *viper.Viper
}

// NewFileSource loads path. A missing file yields an empty source.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	s.v = v
	return s, nil
}

// Name implements Source.
func (s *FileSource) Name() string { return "file " + s.path }

// Lookup implements Source.
func (s *FileSource) Lookup(key string) (any, bool) {
	if s.v == nil || !s.v.IsSet(key) {
		return nil, false
	}
	v := s.v.Get(key)
	if v == nil {
		return nil, false
	}
	return v, true
}

// MapSource is a fixed set of values, mostly useful in tests and for
// command-line overrides.
type MapSource map[string]any

// Name implements Source.
func (MapSource) Name() string { return "map" }

// Lookup implements Source.
func (m MapSource) Lookup(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}
