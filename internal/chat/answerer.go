// Package chat wires the LLM chat backend to the retrieval pipeline to form
// the study assistant: each question is answered from retrieved course
// material, with recent session history injected for multi-turn context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/studybuddy-ai/studybuddy-go/internal/budget"
	"github.com/studybuddy-ai/studybuddy-go/internal/history"
	"github.com/studybuddy-ai/studybuddy-go/internal/logging"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// systemPrompt establishes the assistant's persona and grounding rules.
const systemPrompt = `You are Study Buddy, a patient and encouraging AI tutor helping a student
learn from their own course materials.

You answer questions using the provided study material excerpts. Ground every
answer in those excerpts: when the material covers the question, explain the
answer in clear, simple terms and mention which document it came from. When
the material does not cover the question, say so plainly and answer from
general knowledge, clearly labelled as such.

Guidelines:
- Explain concepts step by step, as if teaching, not just stating facts
- Use short paragraphs and plain language; define jargon the first time it appears
- When a student seems confused, offer an example or analogy
- Never invent citations — only reference documents that appear in the excerpts
- Encourage follow-up questions`

// Searcher is the slice of the retrieval service the answerer needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int, maxDistance float64) (retrieval.Response, error)
}

// Config holds the dependencies required to construct an Answerer.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Retrieval answers context queries. Required.
	Retrieval Searcher

	// TopK controls how many retrieved chunks are injected per question.
	// Defaults to 5 if zero.
	TopK int

	// History is the optional chat history store used to persist and replay
	// prior turns. If nil, each question is stateless.
	History history.Store

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per question. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for the full input
	// context (system prompt + history + excerpts + question). History is
	// trimmed oldest-first to fit. Defaults to budget.DefaultMaxContextTokens
	// if zero.
	MaxContextTokens int
}

// Answer is the outcome of one question.
type Answer struct {
	// Text is the full assistant response.
	Text string

	// Sources are the retrieved chunks the answer was grounded on, in
	// relevance order.
	Sources []retrieval.SearchResult

	// Degraded is true when the excerpts came from the keyword fallback
	// because the embedding backend was unavailable.
	Degraded bool
}

// Answerer answers student questions grounded in retrieved course material.
type Answerer struct {
	chatModel        model.ToolCallingChatModel
	search           Searcher
	topK             int
	history          history.Store
	historyDepth     int
	maxContextTokens int
}

// New constructs an Answerer from the provided Config.
func New(cfg *Config) (*Answerer, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("chat: ChatModel must not be nil")
	}
	if cfg.Retrieval == nil {
		return nil, fmt.Errorf("chat: Retrieval must not be nil")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Answerer{
		chatModel:        cfg.ChatModel,
		search:           cfg.Retrieval,
		topK:             topK,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Ask answers a question, streaming the response text to w as it arrives.
// Retrieved excerpts ground the answer; retrieval failure is non-fatal and
// the model answers without context. If a history store is configured, the
// turn is persisted after completion.
func (a *Answerer) Ask(ctx context.Context, sessionID, question string, w io.Writer) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, retrieval.NewError(retrieval.KindInvalidInput, "chat", "question is empty")
	}

	var answer Answer
	resp, err := a.search.Search(ctx, question, a.topK, 0)
	if err != nil {
		// Retrieval failure is non-fatal — log and answer without context.
		logging.FromContext(ctx).Warn("retrieval failed, answering without context", slog.Any("error", err))
	} else {
		answer.Sources = resp.Results
		answer.Degraded = resp.Degraded
	}

	messages := a.buildMessages(ctx, sessionID, question, answer.Sources)

	sr, err := a.chatModel.Stream(ctx, messages)
	if err != nil {
		return answer, fmt.Errorf("chat: stream failed: %w", err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return answer, fmt.Errorf("chat: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		buf.WriteString(msg.Content)
		if _, err := fmt.Fprint(w, msg.Content); err != nil {
			return answer, fmt.Errorf("chat: write error: %w", err)
		}
	}
	answer.Text = buf.String()

	// Persist the turn (non-fatal on error).
	if a.history != nil {
		if err := a.history.Append(ctx, sessionID, history.RoleUser, question); err != nil {
			logging.FromContext(ctx).Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := a.history.Append(ctx, sessionID, history.RoleAssistant, answer.Text); err != nil {
			logging.FromContext(ctx).Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}

	return answer, nil
}

// buildMessages constructs the message slice: system prompt, trimmed session
// history, retrieved excerpts, then the question.
func (a *Answerer) buildMessages(ctx context.Context, sessionID, question string, sources []retrieval.SearchResult) []*schema.Message {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
	}

	var historyMsgs []*schema.Message
	if a.history != nil {
		prior, err := a.history.Recent(ctx, sessionID, a.historyDepth*2)
		if err != nil {
			logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		} else {
			for _, m := range prior {
				switch m.Role {
				case history.RoleUser:
					historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
				case history.RoleAssistant:
					historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
				}
			}
		}
	}

	if len(sources) > 0 {
		messages = append(messages, schema.SystemMessage(buildExcerptContext(sources)))
	}

	// Add the question to the fixed set for budget calculation, then trim
	// history oldest-first so the estimated token count fits the budget.
	fixed := append(messages, schema.UserMessage(question)) //nolint:gocritic // intentional copy
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, a.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	// Final order: [system, ...history, ...excerpts, question].
	result := make([]*schema.Message, 0, len(messages)+len(historyMsgs)+1)
	result = append(result, messages[0])
	result = append(result, historyMsgs...)
	result = append(result, messages[1:]...)
	result = append(result, schema.UserMessage(question))
	return result
}

// buildExcerptContext formats retrieved chunks into a system message giving
// the model its grounding material.
func buildExcerptContext(sources []retrieval.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("## Study Material Excerpts\n\n")
	sb.WriteString("The following excerpts from the student's uploaded documents are relevant ")
	sb.WriteString("to the question. Ground your answer in them and name the source document ")
	sb.WriteString("when you use one.\n\n")

	for i, s := range sources {
		fmt.Fprintf(&sb, "### Excerpt %d — %s (relevance %.2f)\n%s\n\n",
			i+1, s.Filename, s.Similarity, s.Chunk.Text)
	}
	return sb.String()
}
