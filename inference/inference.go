// Package inference defines the contracts between an extraction pipeline and the
// language model providers it drives.
//
// A provider package registers a Factory in a Registry under one or more model-ID
// patterns. Callers then create models from a ModelConfig and run batches of
// prompts through LanguageModel.Infer, which yields one result list per prompt.
package inference

import (
	"context"
	"iter"
)

// DefaultScore is the score attached to outputs of providers that do not rank results.
const DefaultScore = 1.0

// ScoredOutput is a single generated text result paired with a score.
type ScoredOutput struct {
	Score  float64 `json:"score"`
	Output string  `json:"output"`
}

// LanguageModel runs inference over batches of prompts.
type LanguageModel interface {
	// Infer yields exactly one result list per prompt, in input order. The sequence
	// stops after the first non-nil error; no later prompt is processed.
	Infer(ctx context.Context, prompts []string, opts ...InferOption) iter.Seq2[[]ScoredOutput, error]
}

// Schema is a structured-output constraint a provider understands.
type Schema interface {
	// ToProviderConfig returns the provider settings for this schema. Providers read
	// at least ConfigKeyResponseSchema and ConfigKeyStructuredOutput.
	ToProviderConfig() map[string]any
}

// Provider config keys produced by Schema.ToProviderConfig.
const (
	ConfigKeyResponseSchema   = "response_schema"
	ConfigKeyStructuredOutput = "structured_output"
)

// SchemaFactory builds a provider Schema from a JSON schema document.
type SchemaFactory func(definition map[string]any) (Schema, error)

// SchemaApplier is implemented by models that support structured output.
type SchemaApplier interface {
	// SchemaFactory returns the constructor of the schema type the model accepts.
	SchemaFactory() SchemaFactory
	// ApplySchema sets the active schema, or clears it when s is nil.
	ApplySchema(s Schema)
}

// ModelConfig selects and configures a model through a Registry.
type ModelConfig struct {
	// ModelID is matched against registered patterns unless Provider is set.
	ModelID string
	// Provider selects a registered provider by name, bypassing pattern matching.
	Provider string
	// ProviderKwargs are provider-specific settings; unknown keys are passed through.
	ProviderKwargs map[string]any
}

// Collect drains a result sequence into a slice, stopping at the first error.
// The results gathered before the error are returned with it.
func Collect(seq iter.Seq2[[]ScoredOutput, error]) ([][]ScoredOutput, error) {
	var out [][]ScoredOutput
	for outputs, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, outputs)
	}
	return out, nil
}
