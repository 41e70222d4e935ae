// Package google adapts the Gemini API to the llm.Client interface.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"reasonrt/pkg/llm"
	"reasonrt/pkg/llm/llmerrors"
	"reasonrt/pkg/tools"
)

// Client wraps the Google GenAI SDK. The underlying client needs a context to
// construct, so it is created lazily on first use.
type Client struct {
	client *genai.Client
	apiKey string
	model  string
}

// New creates a client for the given model.
func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeAuth, fmt.Sprintf("create Gemini client: %v", err))
		}
		c.client = client
	}

	contents, systemInstruction, err := buildContents(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if in.Temperature > 0 {
		temp := in.Temperature
		config.Temperature = &temp
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: buildDeclarations(in.Tools)}}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	out := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: "end_turn",
	}
	if result.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, call := range result.FunctionCalls() {
		// Gemini omits call IDs; the function name stands in so results can
		// still be paired.
		id := call.ID
		if id == "" {
			id = call.Name
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         id,
			Name:       call.Name,
			Parameters: call.Args,
		})
	}
	return out, nil
}

// buildContents converts the conversation to Gemini's content format. System
// text moves to the system instruction; tool results become function
// responses on a user turn.
func buildContents(messages []llm.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += msg.Content

		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Parameters,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}

		case llm.RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     msg.ToolName,
						Response: map[string]any{"content": msg.Content},
					},
				}},
			})

		case llm.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	return contents, systemInstruction, nil
}

func buildDeclarations(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name, prop := range def.InputSchema.Properties {
			properties[name] = propertySchema(prop)
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return declarations
}

func propertySchema(prop tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description}
	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
	case "object":
		schema.Type = genai.TypeObject
	default:
		schema.Type = genai.TypeString
	}
	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}
