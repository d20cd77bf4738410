package reason

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/logging"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	systemPrompt     = "You are a concise assistant replying to a dictated question about what is on the user's screen. Answer directly, in plain text."
)

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Anthropic streams responses from the Anthropic messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
	log     *logging.Logger
}

// NewAnthropic builds the production client.
func NewAnthropic(apiKey, baseURL, model string) *Anthropic {
	return NewAnthropicWithClient(apiKey, baseURL, model, &http.Client{})
}

// NewAnthropicWithClient is the test constructor.
func NewAnthropicWithClient(apiKey, baseURL, model string, client HTTPClient) *Anthropic {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		log:     logging.New("reason"),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // image/png
	Data      string `json:"data"`
}

// Send performs one reasoning round trip, streaming chunks to onChunk and
// returning the assembled text.
func (a *Anthropic) Send(ctx context.Context, req Request, onChunk ChunkFunc) (string, error) {
	if strings.TrimSpace(a.apiKey) == "" {
		return "", ErrNoCredentials
	}

	msgs, err := a.buildMessages(req)
	if err != nil {
		return "", err
	}

	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: 2048,
		System:    systemPrompt,
		Messages:  msgs,
		Stream:    true,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return "", ErrNoCredentials
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return "", ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode, string(msg))
	}

	text, err := a.readStream(resp.Body, onChunk)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrInvalidResponse
	}
	return text, nil
}

func (a *Anthropic) buildMessages(req Request) ([]anthropicMessage, error) {
	var msgs []anthropicMessage
	for _, t := range req.History {
		if t.Pending || t.Content == "" {
			continue
		}
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, anthropicMessage{
			Role:    role,
			Content: []contentPart{{Type: "text", Text: t.Content}},
		})
	}

	content := []contentPart{}
	if req.ScreenshotPath != "" {
		data, err := os.ReadFile(req.ScreenshotPath)
		if err != nil {
			a.log.Warn("screenshot_read", map[string]interface{}{"path": req.ScreenshotPath}, err)
		} else {
			content = append(content, contentPart{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: "image/png",
					Data:      base64.StdEncoding.EncodeToString(data),
				},
			})
		}
	}
	content = append(content, contentPart{Type: "text", Text: req.Prompt})
	msgs = append(msgs, anthropicMessage{Role: "user", Content: content})
	return msgs, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (a *Anthropic) readStream(body io.Reader, onChunk ChunkFunc) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := line[6:]
		if data == "[DONE]" {
			break
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				out.WriteString(event.Delta.Text)
				if onChunk != nil {
					onChunk(event.Delta.Text)
				}
			}
		case "message_stop":
			return out.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read response stream: %w", err)
	}
	return out.String(), nil
}

var _ Backend = (*Anthropic)(nil)
