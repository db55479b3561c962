package inference

// InferParams are per-call generation overrides. Nil fields keep the model defaults.
type InferParams struct {
	Temperature     *float64
	MaxOutputTokens *int
	TopP            *float64
}

// InferOption overrides a generation parameter for a single Infer call.
type InferOption func(*InferParams)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) InferOption {
	return func(p *InferParams) { p.Temperature = &t }
}

// WithMaxOutputTokens overrides the maximum number of generated tokens.
func WithMaxOutputTokens(n int) InferOption {
	return func(p *InferParams) { p.MaxOutputTokens = &n }
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) InferOption {
	return func(params *InferParams) { params.TopP = &p }
}

// NewInferParams applies opts to an empty InferParams.
func NewInferParams(opts ...InferOption) InferParams {
	var p InferParams
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	return p
}
