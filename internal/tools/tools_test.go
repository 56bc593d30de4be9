package tools

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asksonar/perplexity-mcp/internal/logging"
	"github.com/asksonar/perplexity-mcp/pkg/faults"
	"github.com/asksonar/perplexity-mcp/pkg/identifier"
	"github.com/asksonar/perplexity-mcp/pkg/perplexity"
	"github.com/asksonar/perplexity-mcp/pkg/pricing"
	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
	"github.com/asksonar/perplexity-mcp/pkg/sanitize"
)

type stubCaller struct {
	gotReq perplexity.ChatRequest
	resp   *perplexity.ChatResponse
	err    error
	called bool
}

func (s *stubCaller) CreateChatCompletion(_ context.Context, req perplexity.ChatRequest) (*perplexity.ChatResponse, error) {
	s.called = true
	s.gotReq = req
	return s.resp, s.err
}

type stubLimiter struct {
	err      error
	acquired bool
}

func (s *stubLimiter) Acquire(context.Context) error {
	s.acquired = true
	return s.err
}

func answer(model, content string, citations ...string) *perplexity.ChatResponse {
	return &perplexity.ChatResponse{
		Model: model,
		Usage: perplexity.Usage{PromptTokens: 1_000_000, CompletionTokens: 0},
		Choices: []perplexity.Choice{
			{Message: perplexity.Message{Role: "assistant", Content: content}},
		},
		Citations: citations,
	}
}

func newTestService(caller *stubCaller, limiter *stubLimiter) (*Service, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logging.New(&buf, logging.LevelDebug)
	handler := faults.NewHandler(log, sanitize.NewRedactor()).WithFatal(func(int) {})
	contexts := reqctx.NewService(identifier.NewGenerator(map[string]string{
		reqctx.EntityRequest: "REQ",
	}))

	svc := New(Deps{
		Client:   caller,
		Contexts: contexts,
		Handler:  handler,
		Limiter:  limiter,
		Costs:    pricing.NewCalculator(nil),
		Log:      log,
	})
	return svc, &buf
}

func askInput(content string) Input {
	return Input{Messages: []ChatMessage{{Role: "user", Content: content}}}
}

func TestInvokeSuccess(t *testing.T) {
	caller := &stubCaller{resp: answer("sonar-pro", "Paris.", "https://example.com/paris")}
	limiter := &stubLimiter{}
	svc, logs := newTestService(caller, limiter)

	out, err := svc.invoke(context.Background(), specs[0], askInput("capital of France?"))
	require.NoError(t, err)

	assert.Equal(t, "Paris.", out.Answer)
	assert.Equal(t, []string{"https://example.com/paris"}, out.Citations)
	assert.Equal(t, "sonar-pro", out.Model)

	// 1 MTok of input on sonar-pro costs $3.
	require.NotNil(t, out.CostUSD)
	assert.Equal(t, 3.0, *out.CostUSD)
	assert.Contains(t, logs.String(), "estimated request cost")

	assert.True(t, limiter.acquired)
	assert.Equal(t, "sonar-pro", caller.gotReq.Model)
}

func TestInvokeEmptyMessages(t *testing.T) {
	caller := &stubCaller{}
	svc, _ := newTestService(caller, &stubLimiter{})

	_, err := svc.invoke(context.Background(), specs[0], Input{})
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeValidation))
	assert.False(t, caller.called)
}

func TestInvokeInvalidRole(t *testing.T) {
	caller := &stubCaller{}
	svc, _ := newTestService(caller, &stubLimiter{})

	_, err := svc.invoke(context.Background(), specs[0], Input{
		Messages: []ChatMessage{{Role: "tool", Content: "hi"}},
	})
	assert.True(t, faults.IsCode(err, faults.CodeValidation))
}

func TestInvokeSanitizesContent(t *testing.T) {
	caller := &stubCaller{resp: answer("sonar-pro", "ok")}
	svc, _ := newTestService(caller, &stubLimiter{})

	_, err := svc.invoke(context.Background(), specs[0],
		askInput(`What is <script>alert(1)</script> XSS?`))
	require.NoError(t, err)

	sent := caller.gotReq.Messages[0].Content
	assert.NotContains(t, sent, "<script")
	assert.Contains(t, sent, "XSS")
}

func TestInvokeRateLimited(t *testing.T) {
	caller := &stubCaller{}
	limiter := &stubLimiter{err: faults.New(faults.CodeRateLimited, "no permits", reqctx.Context{})}
	svc, logs := newTestService(caller, limiter)

	_, err := svc.invoke(context.Background(), specs[0], askInput("q"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeRateLimited))

	// The permit is acquired before the outbound call; denial stops it.
	assert.False(t, caller.called)
	assert.Contains(t, logs.String(), "rate_limited")
}

func TestInvokeUnknownModelCostIsBestEffort(t *testing.T) {
	caller := &stubCaller{resp: answer("experimental-model", "answer")}
	svc, _ := newTestService(caller, &stubLimiter{})

	out, err := svc.invoke(context.Background(), specs[0], askInput("q"))
	require.NoError(t, err)
	assert.Nil(t, out.CostUSD)
	assert.Equal(t, "answer", out.Answer)
}

func TestInvokeAPIErrorLoggedOnce(t *testing.T) {
	caller := &stubCaller{err: faults.New(faults.CodeUnauthorized, "perplexity API returned 401", reqctx.Context{})}
	svc, logs := newTestService(caller, &stubLimiter{})

	_, err := svc.invoke(context.Background(), specs[0], askInput("q"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeUnauthorized))
	assert.Equal(t, 1, strings.Count(logs.String(), `"level":"error"`))
}

func TestInvokeSearchContextSize(t *testing.T) {
	caller := &stubCaller{resp: answer("sonar-pro", "ok")}
	svc, _ := newTestService(caller, &stubLimiter{})

	_, err := svc.invoke(context.Background(), specs[0], Input{
		Messages:          []ChatMessage{{Role: "user", Content: "q"}},
		SearchContextSize: "high",
	})
	require.NoError(t, err)
	require.NotNil(t, caller.gotReq.WebSearchOptions)
	assert.Equal(t, "high", caller.gotReq.WebSearchOptions.SearchContextSize)

	_, err = svc.invoke(context.Background(), specs[0], Input{
		Messages:          []ChatMessage{{Role: "user", Content: "q"}},
		SearchContextSize: "maximum",
	})
	assert.True(t, faults.IsCode(err, faults.CodeValidation))
}

func TestTextResultAppendsCitations(t *testing.T) {
	result := textResult(Output{
		Answer:    "Paris.",
		Citations: []string{"https://a.example", "https://b.example"},
	})

	text := result.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "Paris.")
	assert.Contains(t, text, "[1] https://a.example")
	assert.Contains(t, text, "[2] https://b.example")
	assert.False(t, result.IsError)
}

func TestErrorResultShape(t *testing.T) {
	err := faults.New(faults.CodeRateLimited, "timed out waiting for a rate limit permit", reqctx.Context{})

	result := errorResult(err)
	require.True(t, result.IsError)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Equal(t, "[rate_limited] timed out waiting for a rate limit permit", text)
}
