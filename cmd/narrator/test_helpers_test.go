package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"narrator/internal/config"
	"narrator/internal/daemon"
	"narrator/internal/gencache"
	"narrator/internal/logging"
	"narrator/internal/narration"
	"narrator/internal/testsupport"
	"narrator/internal/workflow"
)

const story = "Alpha one two three. Beta one two three. Gamma one two three."

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	synth      *testsupport.FakeSynthesizer
	configPath string
}

// setupCLITestEnv starts a daemon on a loopback port backed by a fake
// synthesizer and writes a config file pointing the CLI at it.
func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	jobs := testsupport.MustOpenQueue(t, cfg)
	chapters := testsupport.MustOpenChapters(t, cfg)
	blobs := testsupport.MustOpenBlobs(t, cfg)
	synth := testsupport.NewFakeSynthesizer()
	cache := gencache.New(gencache.Options{})
	t.Cleanup(cache.Dispose)

	orch, err := narration.New(narration.Dependencies{
		Synthesizer: synth,
		Cache:       cache,
		Blobs:       blobs,
		Chapters:    chapters,
		Jobs:        jobs,
		Logger:      logging.NewNop(),
	}, narration.OptionsFromConfig(cfg))
	if err != nil {
		t.Fatalf("narration.New: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Services{
		Queue:     jobs,
		Chapters:  chapters,
		Blobs:     blobs,
		Cache:     cache,
		Narration: orch,
		Workflow:  workflow.NewManager(cfg, jobs, orch, logging.NewNop()),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	cfg.Client.BaseURL = "http://" + d.Addr()
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, daemon: d, synth: synth, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func decodeOutput[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
