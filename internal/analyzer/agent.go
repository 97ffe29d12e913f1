package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"

	"github.com/bdougie/videoqa/internal/models"
	"github.com/bdougie/videoqa/internal/resilient"
)

// ErrMediaUnsupported is returned when a text model is handed an artifact.
var ErrMediaUnsupported = errors.New("text model does not accept media")

type OllamaConfig struct {
	BaseURL string
	Port    int
	Model   string
}

// TextModel serves text-only roles from a local Ollama model.
type TextModel struct {
	agent       *agent.DefaultAgent
	instruction string
	logger      *slog.Logger
}

// NewTextModel initializes an agent for role on the configured Ollama server.
func NewTextModel(ctx context.Context, cfg OllamaConfig, role Role, logger *slog.Logger) (*TextModel, error) {
	if role.Vision {
		return nil, fmt.Errorf("%s: %w", role.Name, ErrMediaUnsupported)
	}
	// Check if Ollama is running
	if err := checkServer(ctx, fmt.Sprintf("%s:%d", cfg.BaseURL, cfg.Port)); err != nil {
		return nil, err
	}

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: cfg.Model})

	a := agent.NewAgent(&agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: role.SystemPrompt,
	})
	return &TextModel{
		agent:       a,
		instruction: role.Schema.Describe(),
		logger:      logger,
	}, nil
}

func checkServer(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not reachable at %s: %w", base, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama at %s returned %s", base, resp.Status)
	}
	return nil
}

func (m *TextModel) Generate(ctx context.Context, contents []resilient.Content) (resilient.Reply, error) {
	parts := make([]string, 0, len(contents)+1)
	for _, c := range contents {
		if c.Artifact != nil {
			return resilient.Reply{}, fmt.Errorf("%w: %s", ErrMediaUnsupported, c.Artifact.DisplayName)
		}
		parts = append(parts, c.Text)
	}
	parts = append(parts, m.instruction)

	response := m.agent.Run(ctx, agent.WithInput(strings.Join(parts, "\n\n")))
	if response.Err != nil {
		return resilient.Reply{}, response.Err
	}
	if len(response.Messages) == 0 {
		return resilient.Reply{}, fmt.Errorf("no response messages received from model")
	}
	content := response.Messages[len(response.Messages)-1].Content
	m.logger.Debug("raw response content", "content", content)
	return resilient.Reply{Text: content, Usage: models.Usage{}}, nil
}
