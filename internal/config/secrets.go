package config

import (
	"fmt"
	"os"
	"strings"
)

// LoadSecrets exports the variables of a dotenv file into the process
// environment. Variables already set are left alone. An empty path is a
// no-op.
func LoadSecrets(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	vars, err := parseEnvFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading secrets %s: %w", path, err)
	}
	n := 0
	for _, kv := range vars {
		key, val, _ := strings.Cut(kv, "=")
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return n, fmt.Errorf("setting %s: %w", key, err)
		}
		n++
	}
	return n, nil
}

// SecretValues returns the values of the dotenv file, for redaction.
func SecretValues(path string) []string {
	if path == "" {
		return nil
	}
	vars, err := parseEnvFile(path)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(vars))
	for _, kv := range vars {
		if _, val, _ := strings.Cut(kv, "="); val != "" {
			out = append(out, val)
		}
	}
	return out
}

func parseEnvFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var envVars []string
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		key, val, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		envVars = append(envVars, strings.TrimSpace(key)+"="+stripQuotes(strings.TrimSpace(val)))
	}
	return envVars, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
