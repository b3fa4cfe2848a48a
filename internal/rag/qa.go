package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/agent"
	"github.com/nidhogg/resumemind/internal/provider"
	"github.com/nidhogg/resumemind/internal/window"
)

// QAAgentID is the agent answering questions.
const QAAgentID = "resume_qa"

// SummarizerAgentID condenses old turns when a conversation outgrows the window.
const SummarizerAgentID = "conversation_summarizer"

// AllResumes is the session key for questions spanning every resume.
const AllResumes = "*"

// NoContextAnswer is returned without calling the model when retrieval finds nothing.
const NoContextAnswer = "I couldn't find relevant information in the resume to answer your question."

const summaryQuestion = "Provide a comprehensive summary of this resume including key skills, experience, education, and notable achievements."

const qaPrompt = `You are a helpful assistant that answers questions about resumes.
You will be provided with relevant context from a resume knowledge graph.

Guidelines:
- Answer based ONLY on the provided context
- Be specific and cite relevant information from the context
- If the context doesn't contain enough information, say so
- Keep answers concise but informative
- If asked about skills, list them clearly
- If asked about experience or education, include the relevant details
- Maintain conversation context from previous questions

Format your answers in clear, readable markdown.`

const summarizerPrompt = `Summarize the following conversation about resumes in a few sentences.
Keep names, skills, companies and any facts the user asked about. Reply with the summary only.`

// History persists Q&A conversations.
type History interface {
	FindOrCreateSession(ctx context.Context, resumeID string) (string, error)
	NewSession(ctx context.Context, resumeID string) (string, error)
	AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]provider.Message, error)
}

// QA answers questions about ingested resumes.
type QA struct {
	orch    *Orchestrator
	engine  *agent.Engine
	history History
	window  *window.Manager
	// Turns is how many previous exchanges are loaded before fitting the window.
	Turns  int
	logger *zap.Logger
}

// NewQA registers the answering agent on engine.
func NewQA(orch *Orchestrator, engine *agent.Engine, history History, logger *zap.Logger) *QA {
	engine.Register(&agent.Agent{
		Persona: agent.Persona{
			ID:           QAAgentID,
			Name:         "Resume Q&A Agent",
			Role:         "Answer questions about resumes based on provided context",
			SystemPrompt: qaPrompt,
		},
	})
	engine.Register(&agent.Agent{
		Persona: agent.Persona{
			ID:           SummarizerAgentID,
			Name:         "Conversation Summarizer",
			Role:         "Condense earlier questions and answers",
			SystemPrompt: summarizerPrompt,
		},
	})
	q := &QA{orch: orch, engine: engine, history: history, Turns: 10, logger: logger}
	q.window = window.NewManager(window.DefaultConfig(), q.summarize, logger)
	return q
}

// SetWindow changes the token budget of each question.
func (q *QA) SetWindow(cfg window.Config) {
	q.window = window.NewManager(cfg, q.summarize, q.logger)
}

func (q *QA) summarize(ctx context.Context, text string) (string, error) {
	res, err := q.engine.Execute(ctx, SummarizerAgentID, text)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// fit trims the replayed history and the retrieved facts to the window.
// Facts arrive best first, so trimming drops the least relevant.
func (q *QA) fit(ctx context.Context, past []provider.Message, results []Result, question string) ([]provider.Message, []Result) {
	facts := make([]provider.Message, len(results))
	for i, r := range results {
		facts[i] = provider.Message{Role: provider.RoleUser, Content: FormatContext([]Result{r})}
	}
	hist := window.NewBlock("history", window.PriorityHistory, past...)
	fb := window.NewBlock("facts", window.PriorityFacts, facts...)
	task := window.NewBlock("question", window.PriorityTask,
		provider.Message{Role: provider.RoleSystem, Content: qaPrompt},
		provider.Message{Role: provider.RoleUser, Content: question})
	q.window.Fit(ctx, hist, fb, task)
	return hist.Messages, results[:len(fb.Messages)]
}

// Answer is the reply to one question.
type Answer struct {
	Text    string
	Context []Result
}

// Ask answers a question about one resume, or about every resume when
// resumeID is empty.
func (q *QA) Ask(ctx context.Context, resumeID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}
	key, topK := resumeID, 10
	if resumeID == "" {
		key, topK = AllResumes, 15
	}

	sid, err := q.history.FindOrCreateSession(ctx, key)
	if err != nil {
		return nil, err
	}
	past, err := q.history.GetMessages(ctx, sid, q.Turns*2)
	if err != nil {
		return nil, err
	}

	// Follow-up questions search with the previous question for context.
	searchQuery := question
	if prev := lastUserMessage(past); prev != "" {
		searchQuery = prev + " " + question
	}
	results, err := q.orch.Query(ctx, resumeID, searchQuery, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	if len(results) == 0 {
		return &Answer{Text: NoContextAnswer}, nil
	}
	past, results = q.fit(ctx, past, results, question)

	prompt := fmt.Sprintf("Current Question: %s\n\nRelevant Context from Resume:\n%s\nPlease answer the current question based on the context provided above.",
		question, FormatContext(results))
	res, err := q.engine.Execute(ctx, QAAgentID, prompt, past...)
	if err != nil {
		return nil, err
	}
	answer := strings.TrimSpace(res.Content)

	// The stored user turn is the bare question, not the context-laden prompt.
	if err := q.history.AppendMessage(ctx, sid, provider.Message{Role: provider.RoleUser, Content: question}); err != nil {
		return nil, err
	}
	if err := q.history.AppendMessage(ctx, sid, provider.Message{Role: provider.RoleAssistant, Content: answer}); err != nil {
		return nil, err
	}
	q.logger.Debug("question answered",
		zap.String("resume_id", resumeID),
		zap.Int("context", len(results)),
		zap.Int("tokens", res.Usage.TotalTokens))
	return &Answer{Text: answer, Context: results}, nil
}

// Summary asks for an overview of one resume.
func (q *QA) Summary(ctx context.Context, resumeID string) (*Answer, error) {
	return q.Ask(ctx, resumeID, summaryQuestion)
}

// Reset starts a fresh conversation.
func (q *QA) Reset(ctx context.Context, resumeID string) error {
	if resumeID == "" {
		resumeID = AllResumes
	}
	_, err := q.history.NewSession(ctx, resumeID)
	return err
}

func lastUserMessage(msgs []provider.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == provider.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
