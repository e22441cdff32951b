package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const geminiName = "gemini"

type GeminiProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	CandidateCount  *int     `json:"candidateCount,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiReq struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
	SafetySettings    []any            `json:"safetySettings,omitempty"`
}

type geminiResp struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrResp struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewGeminiProvider(baseURL, apiKey, model string, timeout time.Duration) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &GeminiProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (p *GeminiProvider) Generate(ctx context.Context, systemPrompt string, history []Message, params Params) (*Response, error) {
	if p.Client == nil {
		return nil, errors.New("gemini: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("%w: google api key is required", ErrNotConfigured)
	}
	model := strings.TrimPrefix(strings.TrimSpace(p.Model), "models/")
	if model == "" {
		return nil, errors.New("gemini: model is required")
	}

	reqBody, err := buildGeminiReq(systemPrompt, history, params)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(p.BaseURL, "/"), url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, transportError(geminiName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		var decoded geminiErrResp
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, statusError(geminiName, resp.StatusCode, msg)
	}

	var decoded geminiResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Provider: geminiName, Message: "malformed response: " + err.Error(), Err: err}
	}
	if len(decoded.Candidates) == 0 {
		msg := "empty response"
		if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + decoded.PromptFeedback.BlockReason
		}
		return nil, &Error{Provider: geminiName, Message: msg}
	}

	cand := decoded.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		text.WriteString(part.Text)
	}
	out := &Response{
		Text:  text.String(),
		Model: model,
		Metadata: map[string]string{
			"finish_reason": cand.FinishReason,
			"candidates":    strconv.Itoa(len(decoded.Candidates)),
		},
	}
	if decoded.ModelVersion != "" {
		out.Metadata["model_version"] = decoded.ModelVersion
	}
	if u := decoded.UsageMetadata; u != nil {
		out.Usage = &Usage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount}
	}
	return out, nil
}

func buildGeminiReq(systemPrompt string, history []Message, params Params) (*geminiReq, error) {
	turns := mergeTurns(history)
	if len(turns) == 0 || turns[0].Role != RoleHuman {
		return nil, fmt.Errorf("%w: conversation must start with a human turn", ErrInvalidParameter)
	}
	out := &geminiReq{Contents: make([]geminiContent, 0, len(turns))}
	if strings.TrimSpace(systemPrompt) != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	for _, m := range turns {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	cfg := &geminiGenConfig{}
	set := false
	if f, ok, err := params.Float("temperature"); err != nil {
		return nil, err
	} else if ok {
		cfg.Temperature, set = floatPtr(f), true
	}
	if f, ok, err := params.Float("top_p"); err != nil {
		return nil, err
	} else if ok {
		cfg.TopP, set = floatPtr(f), true
	}
	if n, ok, err := params.Int("top_k"); err != nil {
		return nil, err
	} else if ok {
		cfg.TopK, set = intPtr(n), true
	}
	// max_tokens is the portable name; max_output_tokens wins when both are sent
	for _, key := range []string{"max_tokens", "max_output_tokens"} {
		if n, ok, err := params.Int(key); err != nil {
			return nil, err
		} else if ok {
			cfg.MaxOutputTokens, set = intPtr(n), true
		}
	}
	if n, ok, err := params.Int("candidate_count"); err != nil {
		return nil, err
	} else if ok {
		cfg.CandidateCount, set = intPtr(n), true
	}
	if s, ok, err := params.Strings("stop_sequences"); err != nil {
		return nil, err
	} else if ok {
		cfg.StopSequences, set = s, true
	}
	if set {
		out.GenerationConfig = cfg
	}
	if list, ok := params["safety_settings"].([]any); ok {
		out.SafetySettings = list
	}
	return out, nil
}
