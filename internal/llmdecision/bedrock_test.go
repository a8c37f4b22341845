package llmdecision

import "testing"

func TestDetectBedrockModelFamily(t *testing.T) {
	cases := map[string]string{
		"anthropic.claude-3-5-sonnet-20240620-v1:0": "anthropic",
		"amazon.titan-text-express-v1":              "amazon",
		"meta.llama3-70b-instruct-v1:0":              "meta",
		"mistral.mistral-large-2402-v1:0":            "mistral",
		"us.anthropic.claude-3-5-sonnet-20241022-v2:0": "anthropic",
		"eu.meta.llama3-70b-instruct-v1:0":             "meta",
		"cohere.command-r-v1:0":                        "",
		"":                                             "",
		"no-dots-here":                                 "",
	}
	for model, want := range cases {
		if got := detectBedrockModelFamily(model); got != want {
			t.Errorf("detectBedrockModelFamily(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestBuildBedrockRequestBodyAnthropic(t *testing.T) {
	body, err := buildBedrockRequestBody("hello", nil, 512, 0.5, "anthropic.claude-3-5-sonnet-20240620-v1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("expected anthropic_version set, got %v", body["anthropic_version"])
	}
	if body["max_tokens"] != 512 {
		t.Errorf("expected max_tokens 512, got %v", body["max_tokens"])
	}
	msgs, ok := body["messages"].([]map[string]interface{})
	if !ok || len(msgs) != 1 || msgs[0]["content"] != "hello" {
		t.Errorf("expected single user message with prompt, got %v", body["messages"])
	}
}

func TestBuildBedrockRequestBodyAnthropicWithImageParts(t *testing.T) {
	parts := []ContentPart{{MimeType: "image/png", Data: []byte("fake-bytes")}}
	body, err := buildBedrockRequestBody("describe this", parts, 512, 0.5, "anthropic.claude-3-5-sonnet-20240620-v1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs, ok := body["messages"].([]map[string]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected single user message, got %v", body["messages"])
	}
	blocks, ok := msgs[0]["content"].([]map[string]interface{})
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected text + image content blocks, got %v", msgs[0]["content"])
	}
	if blocks[0]["type"] != "text" || blocks[0]["text"] != "describe this" {
		t.Errorf("expected text block first, got %v", blocks[0])
	}
	if blocks[1]["type"] != "image" {
		t.Errorf("expected image block second, got %v", blocks[1])
	}
	source, ok := blocks[1]["source"].(map[string]interface{})
	if !ok || source["media_type"] != "image/png" {
		t.Errorf("expected image source with media_type, got %v", blocks[1]["source"])
	}
}

func TestBuildBedrockRequestBodyNonAnthropicDropsImageParts(t *testing.T) {
	parts := []ContentPart{{MimeType: "image/png", Data: []byte("fake-bytes")}}
	body, err := buildBedrockRequestBody("hello", parts, 256, 0.2, "amazon.titan-text-express-v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["inputText"] != "hello" {
		t.Errorf("expected text-only fallback, got %v", body["inputText"])
	}
}

func TestBuildBedrockRequestBodyAmazonTitan(t *testing.T) {
	body, err := buildBedrockRequestBody("hello", nil, 256, 0.2, "amazon.titan-text-express-v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["inputText"] != "hello" {
		t.Errorf("expected inputText set, got %v", body["inputText"])
	}
	cfg, ok := body["textGenerationConfig"].(map[string]interface{})
	if !ok || cfg["maxTokenCount"] != 256 {
		t.Errorf("expected textGenerationConfig.maxTokenCount 256, got %v", body["textGenerationConfig"])
	}
}

func TestBuildBedrockRequestBodyUnsupportedFamily(t *testing.T) {
	if _, err := buildBedrockRequestBody("hello", nil, 100, 0.5, "cohere.command-r-v1:0"); err == nil {
		t.Error("expected error for unsupported model family")
	}
}

func TestParseBedrockResponseBodyAnthropic(t *testing.T) {
	raw := []byte(`{"content":[{"text":"the answer is 42"}],"usage":{"input_tokens":10,"output_tokens":5}}`)
	text, usage, err := parseBedrockResponseBody(raw, "anthropic.claude-3-5-sonnet-20240620-v1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "the answer is 42" {
		t.Errorf("expected extracted text, got %q", text)
	}
	if usage.Total != 15 || usage.Prompt != 10 || usage.Completion != 5 {
		t.Errorf("unexpected usage: %+v", usage)
	}
}

func TestParseBedrockResponseBodyAmazonTitan(t *testing.T) {
	raw := []byte(`{"results":[{"outputText":"hi there","tokenCount":3}],"inputTextTokenCount":7}`)
	text, usage, err := parseBedrockResponseBody(raw, "amazon.titan-text-express-v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hi there" {
		t.Errorf("expected extracted text, got %q", text)
	}
	if usage.Total != 10 || usage.Prompt != 7 || usage.Completion != 3 {
		t.Errorf("unexpected usage: %+v", usage)
	}
}

func TestParseBedrockResponseBodyMalformed(t *testing.T) {
	if _, _, err := parseBedrockResponseBody([]byte("not json"), "anthropic.claude-3-5-sonnet-20240620-v1:0"); err == nil {
		t.Error("expected error for malformed response body")
	}
}

func TestPromptTextVariants(t *testing.T) {
	if s, parts, err := promptText("plain"); err != nil || s != "plain" || parts != nil {
		t.Errorf("expected plain string passthrough, got %q, %v, err=%v", s, parts, err)
	}
	mm := MultimodalContent{Text: "with parts", Parts: []ContentPart{{MimeType: "image/png", Data: []byte("x")}}}
	if s, parts, err := promptText(mm); err != nil || s != "with parts" || len(parts) != 1 {
		t.Errorf("expected multimodal text+parts extraction, got %q, %v, err=%v", s, parts, err)
	}
	if _, _, err := promptText(42); err == nil {
		t.Error("expected error for unsupported content type")
	}
}
