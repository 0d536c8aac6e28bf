package mcp

var categoryEnum = []string{"personal", "preferences", "work", "goals", "relationships", "lifestyle", "technical", "other"}

// ToolDefinitions returns the MCP tool definitions for the user memory server.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: "memory_context",
			Description: "Return the stored facts about the user that are most relevant to a message, " +
				"rendered as a <user_context> block ready to prepend to the assistant prompt. " +
				"An empty message returns the most recently used facts.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"message": {Type: "string", Description: "The user's incoming message"},
					"limit": {Type: "number", Description: "Maximum memories to return (default 5, max 50)",
						Default: 5},
				},
				Required: []string{"message"},
			},
		},
		{
			Name: "memory_extract",
			Description: "Extract durable facts about the user from a chat and merge them into memory. " +
				"Pass exchangeId to extract from a single exchange, otherwise recent history is used.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"chatId":     {Type: "string", Description: "ID of the chat"},
					"exchangeId": {Type: "string", Description: "Optional ID of one exchange in the chat"},
				},
				Required: []string{"chatId"},
			},
		},
		{
			Name:        "memory_list",
			Description: "List the user's memories, newest first, with optional filters.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"category": {Type: "string", Description: "Only memories in this category", Enum: categoryEnum},
					"search":   {Type: "string", Description: "Case-insensitive text to look for in summary or excerpt"},
					"tags": {Type: "array", Description: "Match memories carrying any of these tags",
						Items: &Items{Type: "string"}},
					"page":     {Type: "number", Description: "Page number (default 1)", Default: 1},
					"pageSize": {Type: "number", Description: "Page size (default 20, max 100)", Default: 20},
				},
			},
		},
		{
			Name: "memory_remember",
			Description: "Record one fact about the user directly. A fact with the same summary and category " +
				"is merged: the stored confidence only ever goes up.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"summary":    {Type: "string", Description: "Concise statement of the fact"},
					"rawContent": {Type: "string", Description: "The excerpt the fact came from"},
					"category":   {Type: "string", Description: "Fact category", Enum: categoryEnum},
					"confidence": {Type: "number", Description: "Confidence 0.0-1.0", Default: 0.8},
					"tags": {Type: "array", Description: "Descriptive tags",
						Items: &Items{Type: "string"}},
				},
				Required: []string{"summary", "rawContent"},
			},
		},
		{
			Name:        "memory_forget",
			Description: "Toggle a memory's active flag. Inactive memories are never injected into context.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"memoryId": {Type: "string", Description: "ID of the memory"},
				},
				Required: []string{"memoryId"},
			},
		},
	}
}
