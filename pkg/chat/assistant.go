package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

// Assistant produces the model's reply to a conversation. It's an interface
// so the web layer can be tested without a model endpoint.
type Assistant interface {
	Reply(ctx context.Context, history []Message) (string, error)
}

// apiAssistant talks to an OpenAI-style chat completions endpoint.
type apiAssistant struct {
	url    string
	key    string
	model  string
	client *http.Client
}

// NewAssistant creates an Assistant backed by the chat completions endpoint
// at url.
func NewAssistant(url, key, model string) Assistant {
	return &apiAssistant{
		url:    url,
		key:    key,
		model:  model,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

func (a *apiAssistant) Reply(ctx context.Context, history []Message) (string, error) {
	reqBody := completionRequest{Model: a.model}
	for _, msg := range history {
		reqBody.Messages = append(reqBody.Messages, completionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.WithContext(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url,
		bytes.NewReader(payload))
	if err != nil {
		return "", errors.WithContext(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if a.key != "" {
		req.Header.Set("Authorization", "Bearer "+a.key)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.WithContext(err, "call model endpoint")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WithContext(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(fmt.Sprintf(
			"model endpoint returned %d", resp.StatusCode))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.WithContext(err, "parse response")
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", errors.New("model returned an empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}
