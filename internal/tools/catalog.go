package tools

// Built-in tool names.
const (
	QueryRecords     = "query_records"
	UpdateRecord     = "update_record"
	CreateRecord     = "create_record"
	SendEmail        = "send_email"
	LogActivity      = "log_activity"
	SendNotification = "send_notification"
	Think            = "think"
)

// Catalog returns the built-in tool definitions in the order they are offered to the model.
func Catalog() []Definition {
	return []Definition{
		{
			Name: QueryRecords,
			Description: "Read rows from any table. Filters map a column to \"<operator>.<value>\" " +
				"where operator is one of eq, neq, gt, gte, lt, ilike (use % as wildcard) or in " +
				"(comma separated list, e.g. in.todo,doing). A value without an operator prefix means equals. " +
				"Use select for a comma separated column list, order as \"column.asc\" or \"column.desc\", " +
				"and limit to cap the number of rows (default 20, max 100).",
			InputSchema: objectSchema(map[string]any{
				"table":  stringProp("Table to read from, e.g. tasks, projects, clients, invoices."),
				"select": stringProp("Comma separated columns to return. Defaults to all columns."),
				"filters": map[string]any{
					"type":        "object",
					"description": "Column filters as \"<operator>.<value>\".",
					"additionalProperties": map[string]any{
						"type": []any{"string", "number", "boolean"},
					},
				},
				"order": stringProp("Sort as \"column.asc\" or \"column.desc\"."),
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum number of rows to return.",
				},
			}, "table"),
		},
		{
			Name:        UpdateRecord,
			Description: "Update a single row identified by id and return the row as stored after the write.",
			InputSchema: objectSchema(map[string]any{
				"table": stringProp("Table containing the row."),
				"id": map[string]any{
					"type":        []any{"string", "integer"},
					"description": "Primary key of the row to update.",
				},
				"updates": map[string]any{
					"type":          "object",
					"description":   "Column values to set.",
					"minProperties": 1,
				},
			}, "table", "id", "updates"),
		},
		{
			Name:        CreateRecord,
			Description: "Insert a new row and return it as stored, including database generated fields such as id and created_at.",
			InputSchema: objectSchema(map[string]any{
				"table": stringProp("Table to insert into."),
				"data": map[string]any{
					"type":          "object",
					"description":   "Column values of the new row.",
					"minProperties": 1,
				},
			}, "table", "data"),
		},
		{
			Name:        SendEmail,
			Description: "Send an email to a client or collaborator. Write the body as simple HTML and keep the tone professional and concise.",
			InputSchema: objectSchema(map[string]any{
				"to": map[string]any{
					"description": "Recipient address or list of addresses.",
					"anyOf": []any{
						map[string]any{"type": "string", "minLength": 3},
						map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
					},
				},
				"subject": stringProp("Email subject line."),
				"html":    stringProp("HTML body."),
				"from":    stringProp("Optional sender address. Defaults to the configured sender."),
			}, "to", "subject", "html"),
		},
		{
			Name:        LogActivity,
			Description: "Append an entry to the activity log so the team can see what the agent did and why.",
			InputSchema: objectSchema(map[string]any{
				"action":      stringProp("Short action name, e.g. task_reassigned or client_followup."),
				"entity_type": stringProp("Type of the entity the action relates to, e.g. task or project."),
				"entity_id":   stringProp("Id of the related entity."),
				"description": stringProp("Human readable description of the action."),
				"metadata": map[string]any{
					"type":        "object",
					"description": "Additional structured context.",
				},
			}, "action", "description"),
		},
		{
			Name:        SendNotification,
			Description: "Notify the internal team. Use this for anything that needs human attention rather than emailing clients.",
			InputSchema: objectSchema(map[string]any{
				"title":   stringProp("Notification title."),
				"message": stringProp("Notification body."),
				"priority": map[string]any{
					"type":        "string",
					"enum":        []any{"low", "normal", "high", "urgent"},
					"description": "Urgency of the notification. Defaults to normal.",
				},
			}, "title", "message"),
		},
		{
			Name:        Think,
			Description: "Think through the situation before acting. Records your reasoning and has no side effects.",
			InputSchema: objectSchema(map[string]any{
				"thought": stringProp("Your reasoning."),
			}, "thought"),
		},
	}
}

// DefaultRegistry 返回包含全部内置工具的目录。
func DefaultRegistry() *Registry {
	return NewRegistry(Catalog()...)
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	req := make([]any, len(required))
	for i, name := range required {
		req[i] = name
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   req,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
