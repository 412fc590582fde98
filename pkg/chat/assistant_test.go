package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssistantReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var req completionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-model", req.Model)
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "hello", req.Messages[1].Content)

			json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{
						"role":    "assistant",
						"content": "hi there",
					}},
				},
			})
		}))
	defer server.Close()

	assistant := NewAssistant(server.URL, "test-key", "test-model")
	reply, err := assistant.Reply(context.Background(), []Message{
		{Role: "assistant", Content: "welcome"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
}

func TestAssistantReplyErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "ServerError",
			status:  http.StatusBadGateway,
			body:    "upstream broke",
			wantErr: "returned 502",
		},
		{
			name:    "EmptyChoices",
			status:  http.StatusOK,
			body:    `{"choices":[]}`,
			wantErr: "empty response",
		},
		{
			name:    "Garbage",
			status:  http.StatusOK,
			body:    "not json",
			wantErr: "parse response",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(test.status)
					w.Write([]byte(test.body))
				}))
			defer server.Close()

			assistant := NewAssistant(server.URL, "", "test-model")
			_, err := assistant.Reply(context.Background(), []Message{
				{Role: "user", Content: "hello"},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.wantErr)
		})
	}
}
