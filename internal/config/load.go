package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnvVar names the environment variable holding the optional YAML overlay path.
const ConfigFileEnvVar = "CONSOLE_CONFIG"

// FileValues holds settings read from a YAML overlay, keyed by environment variable name.
type FileValues map[string]string

// Load reads a flat YAML mapping of variable names to values, e.g.
//
//	API_BASE_URL: https://order101.link
//	backoff_floor: 3s
//
// Keys are case-insensitive.
func Load(path string) (FileValues, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	values := make(FileValues, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// get resolves envVar from the environment, then the file, then the default.
func (f FileValues) get(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if value, ok := f[envVar]; ok && value != "" {
		return value
	}
	return defaultValue
}

func (f FileValues) getDuration(envVar string, defaultValue time.Duration) time.Duration {
	raw := f.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func (f FileValues) getInt(envVar string, defaultValue int) int {
	raw := f.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}
