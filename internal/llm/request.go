package llm

// generateRequest is the body of a streaming /api/generate call.
type generateRequest struct {
	Template string         `json:"template"`
	Model    string         `json:"model"`
	System   *string        `json:"system"`
	Options  map[string]any `json:"options"`
}

// preloadRequest is the body of the empty-prompt call that loads a model.
type preloadRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// CollectOptions maps CompletionOptions onto Ollama's option names.
// The result always has the same five keys; unset optional fields are nil so
// they encode as JSON null and the server applies its own defaults.
func CollectOptions(opts CompletionOptions) map[string]any {
	var numPredict any
	if opts.MaxTokens != nil {
		numPredict = *opts.MaxTokens
	}
	var stop any
	if opts.Stop != nil {
		stop = opts.Stop
	}
	return map[string]any{
		"temperature": opts.Temperature,
		"top_p":       opts.TopP,
		"top_k":       opts.TopK,
		"num_predict": numPredict,
		"stop":        stop,
	}
}

func newGenerateRequest(prompt, model, system string, opts CompletionOptions) generateRequest {
	req := generateRequest{
		Template: prompt,
		Model:    model,
		Options:  CollectOptions(opts),
	}
	if system != "" {
		req.System = &system
	}
	return req
}
