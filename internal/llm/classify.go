package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// classify inspects the status of a /api/generate response before streaming.
// It returns nil for 200 and a classified *Error otherwise. The body is only
// read on the error paths.
func (c *OllamaClient) classify(ctx context.Context, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading error response (status %d): %w", resp.StatusCode, err)
	}
	text := string(raw)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		hint := ""
		if strings.Contains(text, modelMissingMarker) {
			hint = c.missingModelHint(ctx)
		}
		return &Error{
			Kind:       KindBadRequest,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Ollama returned an error: %s%s", text, hint),
			Summary:    summaryBadRequest,
			Body:       raw,
		}
	case http.StatusNotFound:
		return &Error{
			Kind:       KindServerUnavailable,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s\n\n%s", summaryServerUnavailable, text),
			Summary:    summaryServerUnavailable,
			Body:       raw,
		}
	default:
		return &Error{
			Kind:       KindBadRequest,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Ollama returned an error: %s", text),
			Summary:    summaryBadRequest,
			Body:       raw,
		}
	}
}

// discoveryResult holds the outcome of a model listing made only to enrich an error.
type discoveryResult struct {
	models []string
	err    error
}

func (c *OllamaClient) discover(ctx context.Context) discoveryResult {
	models, err := c.ListModels(ctx)
	if err != nil {
		c.logger.Warn("error listing ollama models", "error", err)
	}
	return discoveryResult{models: models, err: err}
}

// missingModelHint explains how to fetch the configured model. It returns an
// empty string when the model list cannot be retrieved, so the primary error
// is reported unchanged.
func (c *OllamaClient) missingModelHint(ctx context.Context) string {
	res := c.discover(ctx)
	if res.err != nil {
		return ""
	}
	return fmt.Sprintf(
		"\n\nThis means that the model '%s' is not downloaded.\n\nYou have the following models downloaded: %s.\n\nTo download this model, run `ollama run %s` in your terminal.",
		c.model, strings.Join(res.models, ", "), c.model,
	)
}
