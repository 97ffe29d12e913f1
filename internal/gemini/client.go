// Package gemini adapts the Gemini API to the reasoning, media upload and
// embedding interfaces used by the pipeline.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bdougie/videoqa/internal/models"
	"github.com/bdougie/videoqa/internal/resilient"
	"github.com/bdougie/videoqa/internal/schema"
)

const DefaultModel = "gemini-1.5-pro"

// Client owns the connection to the Gemini API
type Client struct {
	client *genai.Client
	logger *slog.Logger
}

func NewClient(ctx context.Context, apiKey string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: client, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ModelConfig fixes the role of one call site
type ModelConfig struct {
	Name         string
	SystemPrompt string
	Schema       *schema.Schema
	Temperature  float32
	Seed         *int32
}

// Model is one configured generative model. It implements resilient.Service.
type Model struct {
	name   string
	model  *genai.GenerativeModel
	logger *slog.Logger
}

func (c *Client) Model(cfg ModelConfig) *Model {
	name := cfg.Name
	if name == "" {
		name = DefaultModel
	}
	model := c.client.GenerativeModel(name)
	configureModel(model, cfg)
	if cfg.Seed != nil {
		c.logger.Warn("gemini client does not support sampling seeds, ignoring", "model", name, "seed", *cfg.Seed)
	}
	return &Model{name: name, model: model, logger: c.logger}
}

func configureModel(model *genai.GenerativeModel, cfg ModelConfig) {
	model.SetTemperature(cfg.Temperature)
	if cfg.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(cfg.SystemPrompt)}}
	}
	if cfg.Schema != nil {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = toSchema(*cfg.Schema)
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}
}

func (m *Model) Generate(ctx context.Context, contents []resilient.Content) (resilient.Reply, error) {
	resp, err := m.model.GenerateContent(ctx, toParts(contents)...)
	if err != nil {
		return resilient.Reply{}, classify(err)
	}
	text, err := responseText(resp)
	if err != nil {
		return resilient.Reply{}, err
	}
	var usage models.Usage
	if resp.UsageMetadata != nil {
		usage = models.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	m.logger.Debug("gemini response", "model", m.name, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	return resilient.Reply{Text: text, Usage: usage}, nil
}

func toParts(contents []resilient.Content) []genai.Part {
	parts := make([]genai.Part, 0, len(contents))
	for _, c := range contents {
		if c.Artifact != nil {
			parts = append(parts, genai.FileData{MIMEType: c.Artifact.MIMEType, URI: c.Artifact.URI})
		}
		if c.Text != "" {
			parts = append(parts, genai.Text(c.Text))
		}
	}
	return parts
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", schema.ErrMalformedResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty candidate (finish reason %v)", schema.ErrMalformedResponse, candidate.FinishReason)
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

func toSchema(s schema.Schema) *genai.Schema {
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(s.Fields)),
		Required:   s.Names(),
	}
	for _, f := range s.Fields {
		prop := &genai.Schema{Type: toType(f.Type)}
		if f.Type == schema.TypeArray {
			prop.Items = &genai.Schema{Type: toType(f.Items)}
		}
		out.Properties[f.Name] = prop
	}
	return out
}

func toType(t schema.Type) genai.Type {
	switch t {
	case schema.TypeString:
		return genai.TypeString
	case schema.TypeBoolean:
		return genai.TypeBoolean
	case schema.TypeNumber:
		return genai.TypeNumber
	case schema.TypeInteger:
		return genai.TypeInteger
	case schema.TypeArray:
		return genai.TypeArray
	}
	return genai.TypeUnspecified
}

// classify wraps rate-limit failures in resilient.ErrResourceExhausted.
func classify(err error) error {
	if isResourceExhausted(err) {
		return fmt.Errorf("%w: %v", resilient.ErrResourceExhausted, err)
	}
	return err
}

func isResourceExhausted(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if aerr.HTTPCode() == http.StatusTooManyRequests {
			return true
		}
		if st := aerr.GRPCStatus(); st != nil && st.Code() == codes.ResourceExhausted {
			return true
		}
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
		return true
	}
	return false
}
