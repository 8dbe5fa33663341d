package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// envFilePaths lists the .env files read at startup, nearest first
func envFilePaths() []string {
	paths := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".pillpal", ".env"),
			filepath.Join(home, ".config", "pillpal", ".env"),
		)
	}
	return paths
}

// LoadEnvFiles loads ./.env and the per-user .env files into the process
// environment without overriding variables already set
func LoadEnvFiles() error {
	for _, path := range envFilePaths() {
		err := loadEnvFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for n := 1; scanner.Scan(); n++ {
		key, value, ok, err := parseEnvLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// parseEnvLine reads one KEY=value line. Blank lines, comments and an
// optional "export " prefix are accepted; quotes around the value are
// stripped.
func parseEnvLine(line string) (key, value string, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false, fmt.Errorf("malformed line %q", line)
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if q := value[0]; (q == '"' || q == '\'') && value[len(value)-1] == q {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true, nil
}

// GetEnvDefault returns the variable or fallback when it is unset or empty
func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// envAliases maps canonical PILLPAL_ keys to the names other tools use
var envAliases = map[string][]string{
	"PILLPAL_LLM_PROVIDERS_OPENAI_API_KEY":     {"OPENAI_API_KEY"},
	"PILLPAL_LLM_PROVIDERS_OPENROUTER_API_KEY": {"OPENROUTER_API_KEY"},
	"PILLPAL_LLM_PROVIDERS_DEEPSEEK_API_KEY":   {"DEEPSEEK_API_KEY"},
	"PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN":      {"TELEGRAM_BOT_TOKEN"},
	"PILLPAL_CHANNELS_DISCORD_TOKEN":           {"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"},
	"PILLPAL_SECURITY_JWT_SECRET":              {"PILLPAL_JWT_SECRET"},
}

// ResolveEnvWithAliases returns the canonical variable, else the first set
// alias
func ResolveEnvWithAliases(canonicalKey string) string {
	for _, key := range append([]string{canonicalKey}, envAliases[canonicalKey]...) {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
