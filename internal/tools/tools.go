// Package tools registers the Perplexity tools on an MCP server and runs
// each invocation through the resilience pipeline: context creation,
// guarded execution, input sanitization, rate limiting, the outbound call,
// and cost estimation. Callers of the protocol never see raw input echoed
// back or unclassified failures.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/asksonar/perplexity-mcp/internal/logging"
	"github.com/asksonar/perplexity-mcp/pkg/faults"
	"github.com/asksonar/perplexity-mcp/pkg/perplexity"
	"github.com/asksonar/perplexity-mcp/pkg/pricing"
	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
	"github.com/asksonar/perplexity-mcp/pkg/sanitize"
)

// ChatCaller is the outbound API surface the tool layer depends on.
type ChatCaller interface {
	CreateChatCompletion(ctx context.Context, req perplexity.ChatRequest) (*perplexity.ChatResponse, error)
}

// Limiter grants permits for outbound calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Deps are the collaborators injected into the tool service.
type Deps struct {
	Client   ChatCaller
	Contexts *reqctx.Service
	Handler  *faults.Handler
	Limiter  Limiter
	Costs    *pricing.Calculator
	Log      *logging.Logger
}

// Service implements the Perplexity tools.
type Service struct {
	client   ChatCaller
	contexts *reqctx.Service
	handler  *faults.Handler
	limiter  Limiter
	costs    *pricing.Calculator
	log      *logging.Logger
}

// New creates the tool service.
func New(deps Deps) *Service {
	return &Service{
		client:   deps.Client,
		contexts: deps.Contexts,
		handler:  deps.Handler,
		limiter:  deps.Limiter,
		costs:    deps.Costs,
		log:      deps.Log,
	}
}

// ChatMessage is one conversation turn supplied by the agent.
type ChatMessage struct {
	Role    string `json:"role" jsonschema:"the message role: system, user, or assistant"`
	Content string `json:"content" jsonschema:"the message text"`
}

// Input is the argument shape shared by all three tools.
type Input struct {
	Messages []ChatMessage `json:"messages" jsonschema:"the conversation to answer"`

	// SearchContextSize tunes how much web context the search uses:
	// low, medium, or high.
	SearchContextSize string `json:"search_context_size,omitempty" jsonschema:"amount of search context: low, medium, or high"`
}

// Output is the structured tool result.
type Output struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations,omitempty"`
	Model     string   `json:"model"`
	CostUSD   *float64 `json:"cost_usd,omitempty"`
}

// toolSpec binds a tool name to the model it queries.
type toolSpec struct {
	name        string
	model       string
	description string
}

var specs = []toolSpec{
	{
		name:        "perplexity_ask",
		model:       "sonar-pro",
		description: "Engages in a conversation using the Sonar API. Accepts an array of messages and returns a chat completion with citations.",
	},
	{
		name:        "perplexity_research",
		model:       "sonar-deep-research",
		description: "Performs deep research using the Perplexity API. Returns a comprehensive answer grounded in many sources.",
	},
	{
		name:        "perplexity_reason",
		model:       "sonar-reasoning-pro",
		description: "Performs reasoning tasks using the Perplexity API. Returns a well-reasoned answer with citations.",
	},
}

// Register adds the Perplexity tools to the MCP server.
func (s *Service) Register(server *mcp.Server) {
	for _, spec := range specs {
		spec := spec
		mcp.AddTool(server, &mcp.Tool{
			Name:        spec.name,
			Description: spec.description,
		}, func(ctx context.Context, req *mcp.CallToolRequest, in Input) (*mcp.CallToolResult, Output, error) {
			out, err := s.invoke(ctx, spec, in)
			if err != nil {
				return errorResult(err), Output{}, nil
			}
			return textResult(out), out, nil
		})
	}
}

// invoke runs one guarded tool invocation end to end. The order is fixed:
// sanitize, acquire a permit, call the API, estimate cost.
func (s *Service) invoke(ctx context.Context, spec toolSpec, in Input) (Output, error) {
	rctx := s.contexts.New(spec.name, map[string]any{"model": spec.model})

	return faults.Run(s.handler, faults.Options{
		Operation: spec.name,
		Ctx:       rctx,
		Input:     in,
		Code:      faults.CodeExternalService,
	}, func() (Output, error) {
		messages, searchOpts, err := s.sanitizeInput(in, rctx)
		if err != nil {
			return Output{}, err
		}

		if err := s.limiter.Acquire(ctx); err != nil {
			return Output{}, err
		}

		resp, err := s.client.CreateChatCompletion(ctx, perplexity.ChatRequest{
			Model:            spec.model,
			Messages:         messages,
			WebSearchOptions: searchOpts,
		})
		if err != nil {
			return Output{}, err
		}

		out := Output{
			Answer:    resp.Content(),
			Citations: resp.Citations,
			Model:     resp.Model,
		}
		if cost := s.costs.Estimate(resp.Model, pricing.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}, in.SearchContextSize); cost != nil {
			out.CostUSD = &cost.Total
			fields := rctx.Fields()
			fields["input_tokens"] = resp.Usage.PromptTokens
			fields["output_tokens"] = resp.Usage.CompletionTokens
			fields["cost_usd"] = cost.Total
			s.log.Info("estimated request cost", fields)
		}
		return out, nil
	})
}

// sanitizeInput validates and cleans the conversation before it leaves the
// process. Message content is stripped of markup; roles are restricted to
// the protocol's set.
func (s *Service) sanitizeInput(in Input, rctx reqctx.Context) ([]perplexity.Message, *perplexity.WebSearchOptions, error) {
	if len(in.Messages) == 0 {
		return nil, nil, faults.New(faults.CodeValidation, "messages must not be empty", rctx)
	}

	messages := make([]perplexity.Message, 0, len(in.Messages))
	for i, m := range in.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return nil, nil, faults.New(faults.CodeValidation,
				fmt.Sprintf("message %d has invalid role %q", i, m.Role), rctx)
		}
		content := strings.TrimSpace(sanitize.HTML(m.Content))
		if content == "" {
			return nil, nil, faults.New(faults.CodeValidation,
				fmt.Sprintf("message %d has empty content", i), rctx)
		}
		messages = append(messages, perplexity.Message{Role: m.Role, Content: content})
	}

	var searchOpts *perplexity.WebSearchOptions
	if in.SearchContextSize != "" {
		switch in.SearchContextSize {
		case "low", "medium", "high":
			searchOpts = &perplexity.WebSearchOptions{SearchContextSize: in.SearchContextSize}
		default:
			return nil, nil, faults.New(faults.CodeValidation,
				fmt.Sprintf("invalid search_context_size %q", in.SearchContextSize), rctx)
		}
	}
	return messages, searchOpts, nil
}

// textResult renders the answer with its citations appended as a numbered
// list, the shape agent frontends display directly.
func textResult(out Output) *mcp.CallToolResult {
	var b strings.Builder
	b.WriteString(out.Answer)
	if len(out.Citations) > 0 {
		b.WriteString("\n\nCitations:\n")
		for i, c := range out.Citations {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}
}

// errorResult formats a classified error for the protocol caller: code and
// message only, never the raw input or a stack.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("[%s] %s", faults.CodeOf(err), errorMessage(err)),
		}},
	}
}

func errorMessage(err error) string {
	var classified *faults.Error
	if errors.As(err, &classified) {
		return classified.Message
	}
	return "request failed"
}
