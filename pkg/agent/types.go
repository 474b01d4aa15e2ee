package agent

import "github.com/radresearch/caseagent/pkg/tools"

// ContentBlock is one part of a multimodal message. Type is "text" or
// "image_url"; ImageURL carries a data URL or a fetchable https URL.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// TextBlock builds a text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds an image content block
func ImageBlock(url string) ContentBlock {
	return ContentBlock{Type: "image_url", ImageURL: url}
}

/// ToolCall is a model-requested tool invocation. Arguments stays raw JSON:
// the run loop parses it with an empty-map fallback so malformed arguments
// degrade instead of failing the call.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TokenUsage accumulates prompt and completion tokens across a run
type TokenUsage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
}

// Add accumulates another usage sample
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Message is one conversation entry. Plain text lives in Content; multimodal
// messages carry Blocks instead, and Blocks wins when both are set.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// UserMessage builds a plain text user message
func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

// UserBlocks builds a multimodal user message
func UserBlocks(blocks ...ContentBlock) Message {
	return Message{Role: "user", Blocks: blocks}
}

// ToolMessage builds a tool-result message for a prior tool call
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: "tool", ToolCallID: toolCallID, Content: content}
}

// AppendText tacks extra text onto the message, used for the turn-budget
// reminder. Multimodal messages get it on their last text block, or a new
// trailing text block when none exists.
func (m *Message) AppendText(text string) {
	if len(m.Blocks) == 0 {
		m.Content += text
		return
	}

	for i := len(m.Blocks) - 1; i >= 0; i-- {
		if m.Blocks[i].Type == "text" {
			m.Blocks[i].Text += text
			return
		}
	}
	m.Blocks = append(m.Blocks, TextBlock(text))
}

// AppendBlocks converts the message to multimodal form if needed and adds
// the given blocks at the end
func (m *Message) AppendBlocks(blocks ...ContentBlock) {
	if len(m.Blocks) == 0 && m.Content != "" {
		m.Blocks = []ContentBlock{TextBlock(m.Content)}
		m.Content = ""
	}
	m.Blocks = append(m.Blocks, blocks...)
}

// LLMRequest is the provider-neutral chat completion request
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []tools.Schema
	Temperature  float64
	MaxTokens    int
}

// LLMResponse is the provider-neutral chat completion response
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     TokenUsage
}
