package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Runtime.RequestTimeout != 30*time.Second {
		t.Errorf("expected request_timeout 30s, got %v", cfg.Runtime.RequestTimeout)
	}
	if cfg.Coordinator.DebateRounds != 3 {
		t.Errorf("expected debate_rounds 3, got %d", cfg.Coordinator.DebateRounds)
	}
	if cfg.Coordinator.HandoffHops != 10 {
		t.Errorf("expected handoff_hops 10, got %d", cfg.Coordinator.HandoffHops)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/clodweave.db" {
		t.Errorf("expected store path data/clodweave.db, got %s", cfg.Store.Path)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("CLODWEAVE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("CLODWEAVE_WEB_PASSWORD", "secret")
	t.Setenv("CLODWEAVE_WEB_PORT", "9090")
	t.Setenv("CLODWEAVE_REQUEST_TIMEOUT", "5s")
	t.Setenv("CLODWEAVE_VAULT_PASSPHRASE", "hunter2")
	t.Setenv("CLODWEAVE_NATS_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Runtime.RequestTimeout != 5*time.Second {
		t.Errorf("expected request timeout 5s, got %v", cfg.Runtime.RequestTimeout)
	}
	if cfg.Vault.Passphrase != "hunter2" {
		t.Errorf("expected vault passphrase, got %q", cfg.Vault.Passphrase)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected invalid port override to be ignored, got %d", cfg.NATS.Port)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
nats:
  port: 4333
  compress_threshold: 1024
runtime:
  request_timeout: 45s
  mailbox_size: 16
coordinator:
  timeout: 1m
  debate_rounds: 5
web:
  port: 3000
  enabled: false
  auth: ${TEST_WEB_AUTH}
log:
  level: debug
  format: json
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CLODWEAVE_CONFIG", cfgPath)
	t.Setenv("TEST_WEB_AUTH", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.NATS.Port != 4333 {
		t.Errorf("expected nats port 4333, got %d", cfg.NATS.Port)
	}
	if cfg.NATS.CompressThreshold != 1024 {
		t.Errorf("expected compress threshold 1024, got %d", cfg.NATS.CompressThreshold)
	}
	if cfg.Runtime.RequestTimeout != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Runtime.RequestTimeout)
	}
	if cfg.Runtime.MailboxSize != 16 {
		t.Errorf("expected mailbox 16, got %d", cfg.Runtime.MailboxSize)
	}
	if cfg.Coordinator.DebateRounds != 5 {
		t.Errorf("expected 5 rounds, got %d", cfg.Coordinator.DebateRounds)
	}
	if cfg.Coordinator.HandoffHops != 10 {
		t.Errorf("expected default handoff hops to survive, got %d", cfg.Coordinator.HandoffHops)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if cfg.Web.Auth != "from-env" {
		t.Errorf("expected expanded auth, got %q", cfg.Web.Auth)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json log format, got %s", cfg.Log.Format)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("nats: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLODWEAVE_CONFIG", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDiff(t *testing.T) {
	old := defaults()
	cur := defaults()

	d := Diff(&old, &cur)
	if d.HasChanges() || len(d.NonReloadable) != 0 {
		t.Fatalf("expected no changes, got %+v", d)
	}

	cur.Scheduler.PollInterval = time.Minute
	cur.Coordinator.DebateRounds = 7
	cur.Web.Port = 9999
	cur.Vault.Passphrase = "changed"

	d = Diff(&old, &cur)
	if !d.HasChanges() {
		t.Fatal("expected reloadable changes")
	}
	if !d.SchedulerChanged || d.NewPollInterval.PollInterval != time.Minute {
		t.Errorf("expected scheduler change, got %+v", d)
	}
	if !d.CoordinatorChanged || d.NewCoordinator.DebateRounds != 7 {
		t.Errorf("expected coordinator change, got %+v", d)
	}
	if d.RuntimeChanged || d.LogChanged {
		t.Errorf("unexpected runtime/log change: %+v", d)
	}
	if len(d.NonReloadable) != 2 || d.NonReloadable[0] != "web.port" || d.NonReloadable[1] != "vault.passphrase" {
		t.Errorf("unexpected non-reloadable list %v", d.NonReloadable)
	}
}

func TestLoadTopology(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
components:
  - id: researcher
    type: echo
    config:
      reply: findings
  - id: panel
    type: coordinator
    config:
      participants: [researcher]
      mode: sequential
connections:
  - source: panel
    target: researcher
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLODWEAVE_CONFIG", cfgPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(cfg.Components))
	}
	panel := cfg.Components[1]
	if panel.ID != "panel" || panel.Type != "coordinator" {
		t.Errorf("unexpected component %+v", panel)
	}
	participants, ok := panel.Config["participants"].([]any)
	if !ok || len(participants) != 1 || participants[0] != "researcher" {
		t.Errorf("unexpected participants %#v", panel.Config["participants"])
	}
	if len(cfg.Connections) != 1 || cfg.Connections[0].Target != "researcher" {
		t.Errorf("unexpected connections %+v", cfg.Connections)
	}

	old := *cfg
	old.Components = nil
	if d := Diff(&old, cfg); len(d.NonReloadable) != 1 || d.NonReloadable[0] != "components" {
		t.Errorf("expected components to be non-reloadable, got %v", d.NonReloadable)
	}
}
