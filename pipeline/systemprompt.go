package pipeline

import "context"

// systemPromptOverride looks up an admin-edited replacement for a stage's
// built-in system prompt, stored under the same config_values table
// ConfigStore overlays onto Config (key "systemPrompt.<stage>"). Builders
// still produce the bundled prompt; this is only consulted as the final
// step before an LLM call, so an operator can tune a stage's instructions
// without a redeploy.
func systemPromptOverride(ctx context.Context, db configValueGetter, stage, builtin string) string {
	if override, ok, err := db.GetConfigValue(ctx, "systemPrompt."+stage); err == nil && ok && override != "" {
		return override
	}
	return builtin
}

// configValueGetter is the subset of store.Store systemPromptOverride needs.
type configValueGetter interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
}
