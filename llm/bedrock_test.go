package llm

import (
	"encoding/json"
	"testing"

	"github.com/m4xw311/puck/session"
)

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	messages := []session.Message{
		{Role: "system", Content: "protocol"},
		{Role: "user", Content: "Hello, world!"},
		{Role: "assistant", Content: "💻 ls"},
		{Role: "system", Content: "INVALID OUTPUT FORMAT."},
		{Role: "assistant", Content: ""},
	}

	result, system := convertMessagesToAnthropicFormat(messages)
	if system != "protocol" {
		t.Errorf("Expected system prompt 'protocol', got '%s'", system)
	}
	if len(result) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(result))
	}

	wantRoles := []string{"user", "assistant", "user"}
	for i, want := range wantRoles {
		if result[i]["role"] != want {
			t.Errorf("message %d: expected role '%s', got '%s'", i, want, result[i]["role"])
		}
	}
}

func TestCreateAnthropicRequest(t *testing.T) {
	messages := []map[string]interface{}{
		{
			"role": "user",
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": "Hello!",
				},
			},
		},
	}

	body, err := createAnthropicRequest(messages, "be terse", 192)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if decoded["max_tokens"] != float64(192) {
		t.Errorf("Expected max_tokens 192, got %v", decoded["max_tokens"])
	}
	if decoded["system"] != "be terse" {
		t.Errorf("Expected system 'be terse', got %v", decoded["system"])
	}

	body, err = createAnthropicRequest(messages, "", 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	decoded = nil
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if _, ok := decoded["system"]; ok {
		t.Error("Expected no system field without a system prompt")
	}
}

func TestProcessBedrockResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"text blocks", `{"content":[{"type":"text","text":"💻 ls\n"},{"type":"text","text":"🏁"}]}`, "💻 ls\n🏁", false},
		{"no content", `{}`, "", false},
		{"api error", `{"error":"throttled"}`, "", true},
		{"bad json", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := processBedrockResponse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
