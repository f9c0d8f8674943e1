package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/taskdesk/internal/config"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nTASKDESK_TEST_DOTENV=from-file\n\nBROKEN LINE\n=novalue\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKDESK_TEST_DOTENV", "")
	os.Unsetenv("TASKDESK_TEST_DOTENV")

	loadDotEnv(path)

	if got := os.Getenv("TASKDESK_TEST_DOTENV"); got != "from-file" {
		t.Errorf("TASKDESK_TEST_DOTENV = %q, want from-file", got)
	}
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TASKDESK_TEST_KEEP=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKDESK_TEST_KEEP", "env")

	loadDotEnv(path)

	if got := os.Getenv("TASKDESK_TEST_KEEP"); got != "env" {
		t.Errorf("TASKDESK_TEST_KEEP = %q, want env", got)
	}
}

func TestLoadAuthTokenPrefersConfig(t *testing.T) {
	cfg := config.Config{HomeDir: t.TempDir(), AuthToken: "from-config"}
	token, err := loadAuthToken(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if token != "from-config" {
		t.Errorf("token = %q, want from-config", token)
	}
}

func TestLoadAuthTokenGeneratesAndPersists(t *testing.T) {
	home := t.TempDir()
	cfg := config.Config{HomeDir: home}

	first, err := loadAuthToken(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(first) == "" {
		t.Fatal("generated token is empty")
	}

	raw, err := os.ReadFile(filepath.Join(home, "auth.token"))
	if err != nil {
		t.Fatalf("auth.token not persisted: %v", err)
	}
	if strings.TrimSpace(string(raw)) != first {
		t.Errorf("persisted token %q != returned %q", strings.TrimSpace(string(raw)), first)
	}

	second, err := loadAuthToken(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second load %q != first %q, want stable token", second, first)
	}
}
