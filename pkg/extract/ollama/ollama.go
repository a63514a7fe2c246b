// Package ollama implements pkg/extract's Extractor against Ollama's
// generate API. The model is prompted to emit a strict JSON object with
// entities and triples; anything unparseable degrades to an empty
// extraction rather than an error so saves still go through.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/engram/pkg/extract"
)

const (
	// DefaultModel is the default extraction model.
	DefaultModel = "llama3.2"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"
)

const extractionPrompt = `Extract named entities and relationships from the text below.
Respond with ONLY a JSON object of the form:
{"entities": ["..."], "relations": [{"source": "...", "relation": "...", "target": "..."}]}
Entities are concrete nouns (people, systems, components, tools).
Relations connect two extracted entities with a short verb phrase.
If nothing can be extracted, respond with {"entities": [], "relations": []}.

Text:
`

// Extractor wraps Ollama's generate API for triple extraction.
type Extractor struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the Ollama extractor.
type Config struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the generation model to use. Defaults to DefaultModel.
	Model string
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// NewExtractor creates an extractor backed by Ollama's generate API.
func NewExtractor(cfg Config) (*Extractor, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Extractor{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Extract prompts the model and parses the JSON payload it returns.
func (e *Extractor) Extract(ctx context.Context, text string) (*extract.Extraction, error) {
	reqBody := generateRequest{
		Model:  e.model,
		Prompt: extractionPrompt + text,
		Stream: false,
		Format: "json",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", extract.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", extract.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", extract.ErrUnavailable, resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", extract.ErrUnavailable, err)
	}

	return parseExtraction(genResp.Response), nil
}

// parseExtraction decodes the model output. Malformed output yields an
// empty extraction; a memory without a graph payload is still a memory.
func parseExtraction(raw string) *extract.Extraction {
	raw = strings.TrimSpace(raw)

	// Some models wrap JSON in code fences despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out extract.Extraction
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return &extract.Extraction{}
	}

	// Drop relations with a blank source, relation, or target.
	relations := out.Relations[:0]
	for _, r := range out.Relations {
		if r.Source == "" || r.Relation == "" || r.Target == "" {
			continue
		}
		relations = append(relations, r)
	}
	out.Relations = relations

	entities := out.Entities[:0]
	for _, e := range out.Entities {
		if strings.TrimSpace(e) == "" {
			continue
		}
		entities = append(entities, strings.TrimSpace(e))
	}
	out.Entities = entities

	return &out
}

// Close releases resources held by the extractor.
func (e *Extractor) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
