package route

import (
	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
)

// buildTurns converts the conversation window plus the current message into
// model turns, oldest first.
func buildTurns(history []chat.Message, message string) []genai.Turn {
	turns := make([]genai.Turn, 0, len(history)+1)
	for _, msg := range history {
		role := genai.RoleUser
		if msg.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		turns = append(turns, genai.Turn{Role: role, Content: msg.Content})
	}
	return append(turns, genai.Turn{Role: genai.RoleUser, Content: message})
}
