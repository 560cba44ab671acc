package platform

import (
	"encoding/json"

	"github.com/fyrsmithlabs/agencyd/internal/genai"
)

// DashboardTools declares the backend functions the dashboard route may
// call. Names match the backend's function registry; Execute routes each
// call to POST /api/v1/functions/:name.
func DashboardTools() []genai.ToolDecl {
	return []genai.ToolDecl{
		{
			Name:        "list_clients",
			Description: "List the agency's clients, optionally filtered by status.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"status": {"type": "string", "enum": ["active", "paused", "archived"]}
				}
			}`),
		},
		{
			Name:        "campaign_metrics",
			Description: "Fetch performance metrics for a campaign: budget, spend, impressions, conversions.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"campaign": {"type": "string", "description": "Campaign name or id."},
					"period": {"type": "string", "enum": ["today", "week", "month", "quarter"]}
				},
				"required": ["campaign"]
			}`),
		},
		{
			Name:        "list_tasks",
			Description: "List open tasks for the user or a client, with due dates and owners.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"client": {"type": "string"},
					"due_before": {"type": "string", "description": "ISO date filter."}
				}
			}`),
		},
		{
			Name:        "account_summary",
			Description: "Summarize the account: active campaigns, total budget and spend this month.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}
