package pipeline

import (
	"context"
	"testing"
)

func TestSystemPromptOverride_FallsBackToBuiltin(t *testing.T) {
	db := newFakeStore()

	got := systemPromptOverride(context.Background(), db, "triage", "builtin prompt")
	if got != "builtin prompt" {
		t.Errorf("got %q, want builtin prompt", got)
	}
}

func TestSystemPromptOverride_PrefersStoredOverride(t *testing.T) {
	db := newFakeStore()
	db.SetConfigValue(context.Background(), "systemPrompt.triage", "be extra careful")

	got := systemPromptOverride(context.Background(), db, "triage", "builtin prompt")
	if got != "be extra careful" {
		t.Errorf("got %q, want be extra careful", got)
	}
}

func TestSystemPromptOverride_BlankOverrideIgnored(t *testing.T) {
	db := newFakeStore()
	db.SetConfigValue(context.Background(), "systemPrompt.architect", "")

	got := systemPromptOverride(context.Background(), db, "architect", "builtin prompt")
	if got != "builtin prompt" {
		t.Errorf("got %q, want builtin prompt", got)
	}
}
