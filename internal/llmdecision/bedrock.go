// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmdecision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockRuntime implements Runtime against AWS Bedrock, using AWS
// Signature V4 auth via IAM roles (no API key management needed for the
// default deployment story).
//
// Grounded on orchestrator/llm_router.go's BedrockProvider
// (getaxonflow-axonflow): buildRequestBody/parseResponseBody's per-model-
// family dispatch (anthropic/amazon/meta/mistral) is adapted nearly
// verbatim, narrowed to the single run() port this package's Runtime
// interface exposes.
type BedrockRuntime struct {
	client *bedrockruntime.Client
	region string
	model  string
}

// NewBedrockRuntime loads AWS config for region and constructs a Bedrock
// runtime client. Returns an error if AWS config loading fails; callers
// should surface this rather than silently falling back to a stub.
func NewBedrockRuntime(ctx context.Context, region, model string) (*BedrockRuntime, error) {
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg)
	log.Printf("[Bedrock] initialized runtime (region=%s, model=%s)", region, model)

	return &BedrockRuntime{client: client, region: region, model: model}, nil
}

// Run implements Runtime.
func (r *BedrockRuntime) Run(ctx context.Context, userID string, cfg AgentConfig, content interface{}, opts map[string]interface{}, sessionID string) (*Result, error) {
	model := cfg.ModelPreference
	if model == "" {
		model = r.model
	}

	prompt, parts, err := promptText(content)
	if err != nil {
		return nil, err
	}

	maxTokens := 1024
	temperature := 0.7
	if v, ok := opts["max_tokens"].(int); ok {
		maxTokens = v
	}
	if v, ok := opts["temperature"].(float64); ok {
		temperature = v
	}

	body, err := buildBedrockRequestBody(prompt, parts, maxTokens, temperature, model)
	if err != nil {
		return nil, err
	}
	requestJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bedrock request: %w", err)
	}

	output, err := r.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("bedrock API error: %v", err)}, nil
	}

	text, usage, err := parseBedrockResponseBody(output.Body, model)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{Success: true, Response: text, TokensUsed: usage}, nil
}

// promptText splits content into its text prompt and, for multimodal
// content, its attached parts. Only the anthropic model family
// (buildBedrockRequestBody) actually embeds parts into the request; other
// families fall back to text and log a warning there, once the model is
// known.
func promptText(content interface{}) (string, []ContentPart, error) {
	switch v := content.(type) {
	case string:
		return v, nil, nil
	case MultimodalContent:
		return v.Text, v.Parts, nil
	default:
		return "", nil, fmt.Errorf("unsupported LLM content type %T", content)
	}
}

// bedrockModelFamilies mirrors the teacher's supported families.
var bedrockModelFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

var bedrockInferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

func detectBedrockModelFamily(modelID string) string {
	if modelID == "" {
		return ""
	}
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	first := segments[0]
	for _, prefix := range bedrockInferenceProfilePrefixes {
		if first == prefix && len(segments) > 1 {
			return validateBedrockFamily(segments[1])
		}
	}
	return validateBedrockFamily(first)
}

func validateBedrockFamily(candidate string) string {
	for _, f := range bedrockModelFamilies {
		if f == candidate {
			return f
		}
	}
	return ""
}

func buildBedrockRequestBody(prompt string, parts []ContentPart, maxTokens int, temperature float64, model string) (map[string]interface{}, error) {
	family := detectBedrockModelFamily(model)

	if len(parts) > 0 && family != "anthropic" {
		log.Printf("[Bedrock] model family %q does not support multimodal input; falling back to text-only prompt (model=%s)", family, model)
		parts = nil
	}

	switch family {
	case "anthropic":
		return map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages":          []map[string]interface{}{{"role": "user", "content": anthropicMessageContent(prompt, parts)}},
		}, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt": prompt, "max_gen_len": maxTokens, "temperature": temperature, "top_p": 0.9,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt": prompt, "max_tokens": maxTokens, "temperature": temperature, "top_p": 0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported bedrock model family for model %q", model)
	}
}

// anthropicMessageContent builds the Anthropic-on-Bedrock message content:
// a plain string when there are no image parts (unchanged shape for
// ordinary text-only calls), or a list of text/image content blocks when
// there are. A part with no inline Data (a URL-only image this adapter has
// no way to fetch) is dropped with a warning rather than sent as an empty
// image block.
func anthropicMessageContent(prompt string, parts []ContentPart) interface{} {
	if len(parts) == 0 {
		return prompt
	}

	blocks := []map[string]interface{}{
		{"type": "text", "text": prompt},
	}
	for _, p := range parts {
		if len(p.Data) == 0 {
			log.Printf("[Bedrock] dropping image part with no inline data (url=%q): Bedrock Anthropic accepts base64 image blocks only", p.URL)
			continue
		}
		mimeType := p.MimeType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": mimeType,
				"data":       base64.StdEncoding.EncodeToString(p.Data),
			},
		})
	}
	return blocks
}

func parseBedrockResponseBody(body []byte, model string) (string, TokenUsage, error) {
	switch detectBedrockModelFamily(model) {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", TokenUsage{}, fmt.Errorf("failed to unmarshal bedrock anthropic response: %w", err)
		}
		text := ""
		if len(resp.Content) > 0 {
			text = resp.Content[0].Text
		}
		return text, TokenUsage{
			Total: resp.Usage.InputTokens + resp.Usage.OutputTokens,
			Prompt: resp.Usage.InputTokens, Completion: resp.Usage.OutputTokens,
		}, nil

	case "amazon":
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
				TokenCount int    `json:"tokenCount"`
			} `json:"results"`
			InputTextTokenCount int `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", TokenUsage{}, fmt.Errorf("failed to unmarshal bedrock titan response: %w", err)
		}
		text, out := "", 0
		if len(resp.Results) > 0 {
			text, out = resp.Results[0].OutputText, resp.Results[0].TokenCount
		}
		return text, TokenUsage{Total: resp.InputTextTokenCount + out, Prompt: resp.InputTextTokenCount, Completion: out}, nil

	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", TokenUsage{}, fmt.Errorf("failed to unmarshal bedrock llama response: %w", err)
		}
		return resp.Generation, TokenUsage{
			Total: resp.PromptTokenCount + resp.GenTokenCount,
			Prompt: resp.PromptTokenCount, Completion: resp.GenTokenCount,
		}, nil

	case "mistral":
		var resp struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", TokenUsage{}, fmt.Errorf("failed to unmarshal bedrock mistral response: %w", err)
		}
		text := ""
		if len(resp.Outputs) > 0 {
			text = resp.Outputs[0].Text
		}
		return text, TokenUsage{}, nil

	default:
		return "", TokenUsage{}, fmt.Errorf("unsupported bedrock model family for model %q", model)
	}
}
