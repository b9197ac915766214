package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// tagsResponse represents the response from Ollama's tags API.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of the models downloaded on the server, in the
// order the server reports them. Results are not cached.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, tagsPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
