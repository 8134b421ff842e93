package conversation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

// Tool names offered to the model.
const (
	ToolComposeEmail = "compose_email"
	ToolReadEmail    = "read_email"
	ToolOpenURL      = "open_url"
)

// Tools returns the fixed tool set sent with every turn. Each call returns
// fresh schema values, so callers may not mutate a shared definition.
func Tools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolComposeEmail,
			Description: "Compose an email draft",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"to":      {Type: "string", Description: "Recipient email address"},
					"subject": {Type: "string", Description: "Email subject line"},
					"body":    {Type: "string", Description: "Email body text"},
				},
				PropertyOrder: []string{"to", "subject", "body"},
				Required:      []string{"to", "subject", "body"},
			},
		},
		{
			Name:        ToolReadEmail,
			Description: "Read emails from inbox. Returns a list of recent emails.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"folder": {Type: "string", Description: "Mailbox folder", Default: json.RawMessage(`"inbox"`)},
					"count":  {Type: "integer", Description: "Number of emails to fetch", Default: json.RawMessage(`10`)},
				},
				PropertyOrder: []string{"folder", "count"},
			},
		},
		{
			Name:        ToolOpenURL,
			Description: "Open a URL in the workspace browser panel",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"url": {Type: "string", Description: "URL to open"},
				},
				Required: []string{"url"},
			},
		},
	}
}

var (
	resolveOnce sync.Once
	resolved    map[string]*jsonschema.Resolved
	resolveErr  error
)

func resolvedTools() (map[string]*jsonschema.Resolved, error) {
	resolveOnce.Do(func() {
		resolved = make(map[string]*jsonschema.Resolved)
		for _, td := range Tools() {
			rs, err := td.InputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
			if err != nil {
				resolveErr = fmt.Errorf("conversation: resolve schema %q: %w", td.Name, err)
				return
			}
			resolved[td.Name] = rs
		}
	})
	return resolved, resolveErr
}

// NormalizeToolInput fills schema defaults into call.Input and validates the
// result against the tool's schema. Calls to unknown tools are rejected.
func NormalizeToolInput(call llm.ToolCall) (map[string]any, error) {
	schemas, err := resolvedTools()
	if err != nil {
		return nil, err
	}
	rs, ok := schemas[call.Name]
	if !ok {
		return nil, fmt.Errorf("conversation: unknown tool %q", call.Name)
	}

	input := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return nil, fmt.Errorf("conversation: decode %s input: %w", call.Name, err)
		}
		if input == nil {
			input = map[string]any{}
		}
	}
	if err := rs.ApplyDefaults(&input); err != nil {
		return nil, fmt.Errorf("conversation: apply %s defaults: %w", call.Name, err)
	}
	if err := rs.Validate(input); err != nil {
		return nil, fmt.Errorf("conversation: validate %s input: %w", call.Name, err)
	}
	return input, nil
}

func encodeInput(input map[string]any) json.RawMessage {
	b, err := json.Marshal(input)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
