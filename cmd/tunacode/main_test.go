package main

import "testing"

func TestBuildRootCmdIncludesRunSubcommand(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["run"] {
		t.Fatalf("expected \"run\" subcommand to be registered")
	}
	if !names["config-schema"] {
		t.Fatalf("expected \"config-schema\" subcommand to be registered")
	}
}

func TestResolveMessage_PrefersArgs(t *testing.T) {
	got, err := resolveMessage([]string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected joined args, got %q", got)
	}
}

func TestLoadConfig_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.MaxIterations != 15 {
		t.Fatalf("expected default max_iterations 15, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.SummaryProvider != "openai-compatible" {
		t.Fatalf("expected default summary provider, got %q", cfg.Agent.SummaryProvider)
	}
}
