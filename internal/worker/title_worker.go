package worker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"sourcemind/internal/domain"
	"sourcemind/internal/pipeline"
)

const (
	defaultPollInterval = 30 * time.Second
	batchSize           = 10
	titleTimeout        = 60 * time.Second
	titleMaxTokens      = 30
	initialBackoff      = 1 * time.Second
	maxBackoff          = 5 * time.Minute
)

// TitleWorker replaces placeholder conversation titles with short
// model-generated ones. It polls for conversations still carrying a
// truncated-query title and backs off when the model is unreachable.
type TitleWorker struct {
	conversations domain.ConversationRepository
	llm           domain.LLMClient
	logger        *slog.Logger
	pollInterval  time.Duration
	stopChan      chan struct{}
	backoff       time.Duration
}

func NewTitleWorker(
	conversations domain.ConversationRepository,
	llm domain.LLMClient,
	pollInterval time.Duration,
	logger *slog.Logger,
) *TitleWorker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &TitleWorker{
		conversations: conversations,
		llm:           llm,
		logger:        logger,
		pollInterval:  pollInterval,
		stopChan:      make(chan struct{}),
	}
}

func (w *TitleWorker) Start() {
	w.logger.Info("Starting TitleWorker", "poll_interval", w.pollInterval.String())
	go w.run()
}

func (w *TitleWorker) Stop() {
	w.logger.Info("Stopping TitleWorker")
	close(w.stopChan)
}

func (w *TitleWorker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processBatch()
			if w.backoff > 0 {
				ticker.Reset(w.backoff)
			} else {
				ticker.Reset(w.pollInterval)
			}
		}
	}
}

func (w *TitleWorker) processBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	untitled, err := w.conversations.ListUntitled(ctx, batchSize)
	if err != nil {
		w.logger.Error("Failed to list untitled conversations", "error", err)
		return
	}
	if len(untitled) == 0 {
		return
	}

	var failed bool
	for _, conv := range untitled {
		if err := w.titleConversation(ctx, conv); err != nil {
			w.logger.Warn("Failed to title conversation",
				"conversation_id", conv.ID, "error", err)
			failed = true
		}
	}

	if failed {
		w.backoff = w.nextBackoff(w.backoff)
		w.logger.Warn("Worker backing off", "backoff", w.backoff.String())
	} else {
		w.backoff = 0
	}
}

func (w *TitleWorker) titleConversation(ctx context.Context, conv domain.Conversation) error {
	messages, err := w.conversations.GetMessages(ctx, conv.ID)
	if err != nil {
		return err
	}

	var firstQuery string
	for _, msg := range messages {
		if msg.Role == "user" {
			firstQuery = msg.Content
			break
		}
	}
	if firstQuery == "" {
		// Nothing to title yet; leave the placeholder for a later pass.
		return nil
	}

	resp, err := w.llm.Generate(ctx, pipeline.BuildTitlePrompt(firstQuery), titleMaxTokens)
	if err != nil {
		return err
	}

	title := cleanTitle(resp.Text)
	if title == "" {
		title = conv.Title
	}

	if err := w.conversations.SetTitle(ctx, conv.ID, title, true); err != nil {
		return err
	}
	w.logger.Info("Conversation titled", "conversation_id", conv.ID, "title", title)
	return nil
}

// cleanTitle strips quotes and newlines the model sometimes wraps the
// title in, and caps runaway output.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}

func (w *TitleWorker) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
