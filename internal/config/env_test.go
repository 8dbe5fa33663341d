package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEnvFile(t *testing.T) {
	path := writeEnvFile(t, `# pillpal local settings
PILLPAL_TEST_PORT=9090
PILLPAL_TEST_TZ="Europe/Berlin"
export PILLPAL_TEST_SECRET='s3cret'

PILLPAL_TEST_EMPTY=
`)
	for _, k := range []string{"PILLPAL_TEST_PORT", "PILLPAL_TEST_TZ", "PILLPAL_TEST_SECRET", "PILLPAL_TEST_EMPTY"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	want := map[string]string{
		"PILLPAL_TEST_PORT":   "9090",
		"PILLPAL_TEST_TZ":     "Europe/Berlin",
		"PILLPAL_TEST_SECRET": "s3cret",
		"PILLPAL_TEST_EMPTY":  "",
	}
	for k, v := range want {
		got, ok := os.LookupEnv(k)
		if !ok || got != v {
			t.Errorf("%s = %q (set %v), want %q", k, got, ok, v)
		}
	}
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	path := writeEnvFile(t, "PILLPAL_TEST_EXISTING=from_file\n")
	t.Setenv("PILLPAL_TEST_EXISTING", "from_env")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}
	if got := os.Getenv("PILLPAL_TEST_EXISTING"); got != "from_env" {
		t.Errorf("existing variable overridden: %q", got)
	}
}

func TestLoadEnvFile_Malformed(t *testing.T) {
	path := writeEnvFile(t, "GOOD=1\nthis is not an assignment\n")
	t.Cleanup(func() { os.Unsetenv("GOOD") })

	if err := loadEnvFile(path); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line    string
		key     string
		value   string
		ok      bool
		wantErr bool
	}{
		{line: "A=b", key: "A", value: "b", ok: true},
		{line: "  A = b  ", key: "A", value: "b", ok: true},
		{line: `A="x=y"`, key: "A", value: "x=y", ok: true},
		{line: `A="unbalanced`, key: "A", value: `"unbalanced`, ok: true},
		{line: "export A=1", key: "A", value: "1", ok: true},
		{line: "# comment"},
		{line: ""},
		{line: "=value", wantErr: true},
		{line: "NO_EQUALS", wantErr: true},
		{line: "TWO WORDS=1", wantErr: true},
	}

	for _, tt := range tests {
		key, value, ok, err := parseEnvLine(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseEnvLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if key != tt.key || value != tt.value || ok != tt.ok {
			t.Errorf("parseEnvLine(%q) = %q, %q, %v; want %q, %q, %v",
				tt.line, key, value, ok, tt.key, tt.value, tt.ok)
		}
	}
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("PILLPAL_TEST_SET", "value")
	t.Setenv("PILLPAL_TEST_BLANK", "")

	if got := GetEnvDefault("PILLPAL_TEST_SET", "fallback"); got != "value" {
		t.Errorf("got %q, want value", got)
	}
	if got := GetEnvDefault("PILLPAL_TEST_BLANK", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestResolveEnvWithAliases(t *testing.T) {
	const key = "PILLPAL_CHANNELS_DISCORD_TOKEN"

	t.Setenv(key, "")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DISCORD_TOKEN", "second-alias")
	if got := ResolveEnvWithAliases(key); got != "second-alias" {
		t.Errorf("got %q, want second-alias", got)
	}

	t.Setenv("DISCORD_BOT_TOKEN", "first-alias")
	if got := ResolveEnvWithAliases(key); got != "first-alias" {
		t.Errorf("got %q, want first-alias", got)
	}

	t.Setenv(key, "canonical")
	if got := ResolveEnvWithAliases(key); got != "canonical" {
		t.Errorf("got %q, want canonical", got)
	}

	if got := ResolveEnvWithAliases("PILLPAL_TEST_NO_ALIASES"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestEnvAliases_CoverSecrets(t *testing.T) {
	for _, key := range []string{
		"PILLPAL_LLM_PROVIDERS_OPENAI_API_KEY",
		"PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN",
		"PILLPAL_SECURITY_JWT_SECRET",
	} {
		if len(envAliases[key]) == 0 {
			t.Errorf("no aliases for %s", key)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/pillpal", filepath.Join(home, "pillpal")},
		{"/var/lib/pillpal", "/var/lib/pillpal"},
		{"relative/dir", "relative/dir"},
		{"~user/dir", "~user/dir"},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
