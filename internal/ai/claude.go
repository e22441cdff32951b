package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	claudeName             = "claude"
	claudeAPIVersion       = "2023-06-01"
	claudeDefaultMaxTokens = 1024
)

type ClaudeProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeReq struct {
	Model         string      `json:"model"`
	System        string      `json:"system,omitempty"`
	Messages      []claudeMsg `json:"messages"`
	MaxTokens     int         `json:"max_tokens"`
	Temperature   *float64    `json:"temperature,omitempty"`
	TopP          *float64    `json:"top_p,omitempty"`
	TopK          *int        `json:"top_k,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
}

type claudeResp struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeErrResp struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClaudeProvider(baseURL, apiKey, model string, timeout time.Duration) *ClaudeProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ClaudeProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (p *ClaudeProvider) Generate(ctx context.Context, systemPrompt string, history []Message, params Params) (*Response, error) {
	if p.Client == nil {
		return nil, errors.New("claude: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("%w: claude api key is required", ErrNotConfigured)
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("claude: model is required")
	}

	reqBody, err := buildClaudeReq(model, systemPrompt, history, params)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, transportError(claudeName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		var decoded claudeErrResp
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, statusError(claudeName, resp.StatusCode, msg)
	}

	var decoded claudeResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Provider: claudeName, Message: "malformed response: " + err.Error(), Err: err}
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	respModel := decoded.Model
	if respModel == "" {
		respModel = model
	}
	return &Response{
		Text:  text.String(),
		Model: respModel,
		Usage: &Usage{
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
		},
		Metadata: map[string]string{
			"message_id":  decoded.ID,
			"stop_reason": decoded.StopReason,
		},
	}, nil
}

func buildClaudeReq(model, systemPrompt string, history []Message, params Params) (*claudeReq, error) {
	turns := mergeTurns(history)
	msgs := make([]claudeMsg, 0, len(turns))
	for _, m := range turns {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, claudeMsg{Role: role, Content: m.Content})
	}
	if len(msgs) == 0 || msgs[0].Role != "user" {
		return nil, fmt.Errorf("%w: conversation must start with a human turn", ErrInvalidParameter)
	}

	out := &claudeReq{
		Model:     model,
		System:    systemPrompt,
		Messages:  msgs,
		MaxTokens: claudeDefaultMaxTokens,
	}
	if n, ok, err := params.Int("max_tokens"); err != nil {
		return nil, err
	} else if ok {
		out.MaxTokens = n
	}
	if f, ok, err := params.Float("temperature"); err != nil {
		return nil, err
	} else if ok {
		out.Temperature = floatPtr(f)
	}
	if f, ok, err := params.Float("top_p"); err != nil {
		return nil, err
	} else if ok {
		out.TopP = floatPtr(f)
	}
	if n, ok, err := params.Int("top_k"); err != nil {
		return nil, err
	} else if ok {
		out.TopK = intPtr(n)
	}
	if s, ok, err := params.Strings("stop_sequences"); err != nil {
		return nil, err
	} else if ok {
		out.StopSequences = s
	}
	return out, nil
}
