package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/conveyr/adapters/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidate_ExampleConfig(t *testing.T) {
	out, err := execute(t, "validate", "--config", filepath.Join("..", "..", "conveyr.example.yaml"))
	if err != nil {
		t.Fatalf("validate error: %v\n%s", err, out)
	}
	for _, want := range []string{"Stores: 1", "Services: 2", "Actions: 4", "Declarations resolve", "Configuration is valid."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidate_UnresolvedHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyr.yaml")
	content := `
services:
  - id: svc
    endpoints:
      - id: ep
        handler: nowhere
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := execute(t, "validate", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "declaration error") {
		t.Errorf("error = %v, want declaration error", err)
	}
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error = %v, want config file not found", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "conveyr dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestInvoke_ExampleConfig(t *testing.T) {
	out, err := execute(t, "invoke", "increment", "4", "--show", "counts", "-O", "json",
		"--config", filepath.Join("..", "..", "conveyr.example.yaml"))
	if err != nil {
		t.Fatalf("invoke error: %v\n%s", err, out)
	}
	for _, want := range []string{`"action": "increment"`, `"name": "count"`, `"value": 4`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestActions_ExampleConfig(t *testing.T) {
	out, err := execute(t, "actions", "--config", filepath.Join("..", "..", "conveyr.example.yaml"))
	if err != nil {
		t.Fatalf("actions error: %v\n%s", err, out)
	}
	for _, want := range []string{"delayed_increment", "counter.increment, audit.record", "counter.reset", "double"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInvoke_MappedCalls(t *testing.T) {
	out, err := execute(t, "invoke", "double", "3", "--show", "counts", "-O", "json",
		"--config", filepath.Join("..", "..", "conveyr.example.yaml"))
	if err != nil {
		t.Fatalf("invoke error: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"value": 6`) {
		t.Errorf("output missing doubled count:\n%s", out)
	}
}

func TestToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyr.yaml")
	if err := os.WriteFile(path, []byte("server:\n  auth_secret: test-secret\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := execute(t, "token", "--subject", "bot", "--actions", "increment,reset", "--ttl", "1h", "--config", path)
	if err != nil {
		t.Fatalf("token error: %v\n%s", err, out)
	}

	raw := strings.SplitN(out, "\n", 2)[0]
	claims, err := auth.NewTokenService("test-secret", time.Hour).ValidateToken(raw)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "bot" {
		t.Errorf("Subject = %q, want bot", claims.Subject)
	}
	if !claims.Allows("reset") || claims.Allows("double") {
		t.Errorf("Actions = %v, want [increment reset]", claims.Actions)
	}
	if !strings.Contains(out, "expires ") {
		t.Errorf("output missing expiry:\n%s", out)
	}
}

func TestToken_NoSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyr.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := execute(t, "token", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "auth_secret") {
		t.Errorf("error = %v, want missing auth_secret", err)
	}
}
