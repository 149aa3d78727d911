// Package configgen assembles the development .env file from the layered
// env sources in config/env. Base settings and secrets stay in separate
// files; derived values (connection URLs, dashboard variables) are
// computed here so no service URL is ever hand-maintained in two places.
package configgen

import (
	"bytes"
	"fmt"
	"maps"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseFile    string
	SecretsFile string
	OutputFile  string
	Context     string
}

func (o *Options) normalize() error {
	if o.BaseFile == "" {
		return fmt.Errorf("BaseFile is required")
	}
	if o.SecretsFile == "" {
		return fmt.Errorf("SecretsFile is required")
	}
	if o.Context == "" {
		o.Context = "dev"
	}
	return nil
}

// Generate merges base + secrets env files, derives additional values,
// validates required variables, writes the output file if OutputFile is
// set, and returns the final environment map.
func Generate(opts Options) (map[string]string, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for _, layer := range []struct {
		label string
		path  string
	}{
		{"base", opts.BaseFile},
		{"secrets", opts.SecretsFile},
	} {
		vars, err := readEnvFile(layer.path)
		if err != nil {
			return nil, fmt.Errorf("read %s env: %w", layer.label, err)
		}
		maps.Copy(env, vars)
	}

	if err := computeDerived(env); err != nil {
		return nil, fmt.Errorf("derive values: %w", err)
	}

	if err := computeDashboardVariables(env); err != nil {
		return nil, fmt.Errorf("derive dashboard variables: %w", err)
	}

	if err := validate(env); err != nil {
		return nil, err
	}

	env["ENV_CONTEXT"] = opts.Context
	env["ENV_GENERATED_AT"] = time.Now().UTC().Format(time.RFC3339)

	if opts.OutputFile == "" {
		return env, nil
	}
	if err := writeEnvFile(opts.OutputFile, env); err != nil {
		return nil, fmt.Errorf("write env file: %w", err)
	}
	return env, nil
}

func readEnvFile(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars, err := parseEnv(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

func parseEnv(content []byte) (map[string]string, error) {
	result := make(map[string]string)
	for no, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", no+1)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", no+1)
		}
		result[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return result, nil
}

func computeDerived(env map[string]string) error {
	pg, err := requireAll(env, "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB")
	if err != nil {
		return err
	}
	user, pass, host, port, db := pg[0], pg[1], pg[2], pg[3], pg[4]

	// Building through url.URL keeps passwords with reserved characters
	// usable; Sprintf concatenation would produce an unparseable URL.
	dbURL := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     db,
		RawQuery: "sslmode=" + valueOrDefault(env, "POSTGRES_SSL_MODE", "disable"),
	}
	env["DATABASE_URL"] = dbURL.String()

	// Kafka is optional. Without a broker host the decision log stays
	// Postgres-only and KAFKA_BROKERS is left unset.
	if kafkaHost := strings.TrimSpace(env["KAFKA_HOST"]); kafkaHost != "" {
		env["KAFKA_BROKERS"] = net.JoinHostPort(kafkaHost, valueOrDefault(env, "KAFKA_PORT", "9092"))
	}

	for _, svc := range []struct{ urlKey, hostKey, portKey string }{
		{"BOSUN_URL", "BOSUN_HOST", "BOSUN_PORT"},
		{"CHANDLER_URL", "CHANDLER_HOST", "CHANDLER_PORT"},
		{"LOOKOUT_URL", "LOOKOUT_HOST", "LOOKOUT_PORT"},
	} {
		if err := setHTTPURL(env, svc.urlKey, svc.hostKey, svc.portKey); err != nil {
			return err
		}
	}

	return nil
}

// computeDashboardVariables derives the browser-facing URLs baked into
// the dashboard build at compile time.
func computeDashboardVariables(env map[string]string) error {
	publicURL, err := require(env, "BOSUN_PUBLIC_URL")
	if err != nil {
		return err
	}
	env["VITE_API_URL"] = strings.TrimRight(publicURL, "/")

	env["VITE_COMPANY_NAME"] = valueOrDefault(env, "BRAND_NAME", "Flotilla")
	env["VITE_DOMAIN"] = valueOrDefault(env, "BRAND_DOMAIN", "flotilla.example")
	env["VITE_CONTACT_EMAIL"] = valueOrDefault(env, "BRAND_CONTACT_EMAIL", "hello@flotilla.example")

	return nil
}

func setHTTPURL(env map[string]string, targetKey, hostKey, portKey string) error {
	parts, err := requireAll(env, hostKey, portKey)
	if err != nil {
		return err
	}
	env[targetKey] = "http://" + net.JoinHostPort(parts[0], parts[1])
	return nil
}

func validate(env map[string]string) error {
	required := []string{
		"POSTGRES_USER",
		"POSTGRES_PASSWORD",
		"POSTGRES_DB",
		"POSTGRES_HOST",
		"POSTGRES_PORT",
		"JWT_SECRET",
		"SERVICE_TOKEN",
	}

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(env[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
}

func require(env map[string]string, key string) (string, error) {
	if val := strings.TrimSpace(env[key]); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%s is not set", key)
}

func requireAll(env map[string]string, keys ...string) ([]string, error) {
	vals := make([]string, len(keys))
	for i, key := range keys {
		val, err := require(env, key)
		if err != nil {
			return nil, err
		}
		vals[i] = val
	}
	return vals, nil
}

func valueOrDefault(env map[string]string, key, def string) string {
	if val := strings.TrimSpace(env[key]); val != "" {
		return val
	}
	return def
}

func writeEnvFile(path string, env map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Generated by configgen on %s\n", time.Now().UTC().Format(time.RFC3339))
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", key, strconv.Quote(env[key]))
	}

	return os.WriteFile(path, buf.Bytes(), 0o600)
}
