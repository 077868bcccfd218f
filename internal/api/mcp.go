package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docbot-ai/docbot/internal/chatbot"
	"github.com/docbot-ai/docbot/internal/narration"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chatbots   *chatbot.Service
	Narrations *narration.Pipeline
}

// NewMCPServer creates an MCP server exposing the chatbot and narration core
// as tools, so agent hosts can query knowledge bases directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docbot — document-grounded chatbots and voice narration."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_chatbot",
			mcp.WithDescription("Ask a question against one chatbot's knowledge base and get a grounded answer."),
			mcp.WithString("chatbot_id", mcp.Description("ID of the chatbot to query"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAskChatbot(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search one chatbot's knowledge base and return the most relevant passages."),
			mcp.WithString("chatbot_id", mcp.Description("ID of the chatbot to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 4)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("list_chatbots",
			mcp.WithDescription("List the chatbots belonging to an owner."),
			mcp.WithString("owner_id", mcp.Description("Owner identity"), mcp.Required()),
		),
		mcpListChatbots(deps),
	)

	s.AddTool(
		mcp.NewTool("narrate_text",
			mcp.WithDescription("Summarize text into a spoken-style narration script of roughly the requested length."),
			mcp.WithString("text", mcp.Description("Content to summarize"), mcp.Required()),
			mcp.WithNumber("minutes", mcp.Description("Target spoken length in minutes (default 1)")),
			mcp.WithString("prompt", mcp.Description("Optional custom summarization instruction")),
		),
		mcpNarrateText(deps),
	)

	return s
}

func mcpAskChatbot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chatbotID, err := req.RequireString("chatbot_id")
		if err != nil {
			return mcpError("chatbot_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		answer, err := deps.Chatbots.Answer(ctx, chatbotID, question, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		return mcpText(answer.Text), nil
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chatbotID, err := req.RequireString("chatbot_id")
		if err != nil {
			return mcpError("chatbot_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 4)
		if limit <= 0 {
			limit = 4
		}
		if limit > 50 {
			limit = 50
		}

		passages, err := deps.Chatbots.Search(ctx, chatbotID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(passages) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(passages)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListChatbots(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := req.RequireString("owner_id")
		if err != nil {
			return mcpError("owner_id is required"), nil
		}

		bots, err := deps.Chatbots.List(ctx, owner)
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}

		out := make([]chatbotResponse, len(bots))
		for i, bot := range bots {
			out[i] = toChatbotResponse(bot)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpNarrateText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		summary, err := deps.Narrations.Summarize(ctx, narration.Request{
			Text:          text,
			TargetMinutes: req.GetInt("minutes", 1),
			CustomPrompt:  req.GetString("prompt", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("narration failed: %v", err)), nil
		}
		return mcpText(summary), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
