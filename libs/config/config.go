package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Source resolves settings from the process environment, optionally seeded from a .env file.
// Real environment variables always win over the file.
type Source struct {
	v *viper.Viper
}

// Load reads envFile (if it exists) into the environment and returns a Source over it.
func Load(envFile string) (*Source, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromViper(viper.New()), nil
}

func FromViper(v *viper.Viper) *Source {
	v.AutomaticEnv()
	return &Source{v: v}
}

// Set overrides a key, mostly for CLI flags and tests.
func (s *Source) Set(key string, value any) {
	s.v.Set(key, value)
}

func (s *Source) String(key, fallback string) string {
	v := strings.TrimSpace(s.v.GetString(key))
	if v == "" {
		return fallback
	}
	return v
}

func (s *Source) RequiredString(key string) (string, error) {
	v := s.String(key, "")
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func (s *Source) Port(key, fallback string) (string, error) {
	v := s.String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

func (s *Source) Int(key string, fallback int) (int, error) {
	raw := s.String(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, raw)
	}
	return n, nil
}

func (s *Source) Float(key string, fallback float64) (float64, error) {
	raw := s.String(key, "")
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number (got %q)", key, raw)
	}
	return f, nil
}

func (s *Source) Bool(key string, fallback bool) (bool, error) {
	raw := s.String(key, "")
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean (got %q)", key, raw)
	}
	return b, nil
}

func (s *Source) Duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := s.String(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (got %q)", key, raw)
	}
	return d, nil
}

// List splits a comma separated value, dropping blanks.
func (s *Source) List(key string) []string {
	var out []string
	for _, part := range strings.Split(s.String(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
