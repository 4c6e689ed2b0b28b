package client

import (
	"context"

	"github.com/raphaelgruber/pmchat/internal/models"
)

// maxQuotaNoticeLen bounds replies inspected for quota wording. A real answer
// that merely mentions billing is longer than a provider's error notice.
const maxQuotaNoticeLen = 240

const sendChatMessageOp = "SendChatMessage"

// SendChatMessage posts a user message and waits for the complete assistant
// reply. Cancelling ctx aborts the request.
//
// A reply flagged as quota-exceeded, or one that consists of a provider quota
// notice, is returned as *QuotaError.
func (c *Client) SendChatMessage(ctx context.Context, conversationID, content, modelID string) (models.ChatReply, error) {
	const query = `
		mutation SendChatMessage($conversationId: ID!, $content: String!, $modelId: String) {
			sendAiChatMessage(conversationId: $conversationId, content: $content, modelId: $modelId) {
				reply
				createdAt
				model
				quotaExceeded
				usage { inputTokens outputTokens }
			}
		}
	`

	vars := map[string]any{
		"conversationId": conversationID,
		"content":        content,
	}
	if modelID != "" {
		vars["modelId"] = modelID
	}

	var result struct {
		Reply models.ChatReply `json:"sendAiChatMessage"`
	}
	if err := c.Execute(ctx, query, vars, &result); err != nil {
		return models.ChatReply{}, err
	}

	reply := result.Reply
	if reply.Model == "" {
		reply.Model = modelID
	}
	if reply.QuotaExceeded || (len(reply.Text) <= maxQuotaNoticeLen && isQuotaMessage(reply.Text)) {
		return reply, &QuotaError{Model: reply.Model, Message: reply.Text}
	}
	return reply, nil
}
