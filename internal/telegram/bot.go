// Package telegram exposes the agent over a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/hunterwarburton/sage/internal/agent"
	"github.com/hunterwarburton/sage/internal/knowledge"
	"github.com/hunterwarburton/sage/internal/logger"
)

// AgentService runs one conversational turn.
type AgentService interface {
	Run(ctx context.Context, sessionID, query string, onDelta func(string)) (*agent.Response, error)
}

// KnowledgeService reloads the knowledge base.
type KnowledgeService interface {
	IngestAll(ctx context.Context, sources []string, recreate bool) ([]knowledge.IngestResult, error)
}

// PolicyService decides who may chat and who may manage knowledge.
type PolicyService interface {
	IsAllowed(userID int64) bool
	CanManageKnowledge(userID int64) bool
}

// Bot bridges Telegram chats to agent sessions. Each chat maps to one
// durable session; /reset rotates the chat to a fresh session without
// touching stored history.
type Bot struct {
	bot       *bot.Bot
	agent     AgentService
	knowledge KnowledgeService
	policy    PolicyService
	sources   []string

	mutex  sync.RWMutex
	epochs map[int64]int
}

// NewBot creates a bot instance talking to the given agent.
func NewBot(token string, agentSvc AgentService, knowledgeSvc KnowledgeService, policy PolicyService, sources []string) (*Bot, error) {
	b := &Bot{
		agent:     agentSvc,
		knowledge: knowledgeSvc,
		policy:    policy,
		sources:   sources,
		epochs:    make(map[int64]int),
	}

	botAPI, err := bot.New(token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	b.bot = botAPI
	return b, nil
}

// Start runs the update loop until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// sessionID derives the durable session key for a chat. The epoch bumps
// on /reset so old turns stop feeding the context.
func (b *Bot) sessionID(chatID int64) string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	epoch := b.epochs[chatID]
	if epoch == 0 {
		return fmt.Sprintf("tg-%d", chatID)
	}
	return fmt.Sprintf("tg-%d-%d", chatID, epoch)
}

// handleUpdate handles a Telegram update.
func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	message := update.Message
	chatID := message.Chat.ID
	userID := message.From.ID

	if b.policy != nil && !b.policy.IsAllowed(userID) {
		logger.Info("Chat[%d] User[%d]: Rejected by access policy.", chatID, userID)
		return
	}

	if message.Text == "" {
		logger.Debug("Chat[%d] User[%d]: Ignored non-text message.", chatID, userID)
		return
	}

	if message.Text[0] == '/' {
		b.handleCommand(ctx, message)
		return
	}
	b.handleTextMessage(ctx, message)
}

// handleCommand processes a command message.
func (b *Bot) handleCommand(ctx context.Context, message *models.Message) {
	command := strings.TrimPrefix(strings.Split(message.Text, " ")[0], "/")
	chatID := message.Chat.ID
	userID := message.From.ID
	logger.Info("Chat[%d] User[%d]: Received command: /%s", chatID, userID, command)

	switch command {
	case "start":
		text := "👋 Hello! Ask me anything about my knowledge base."
		text += "\n\nCommands:"
		text += "\n/help - Show this help message"
		text += "\n/reset - Start a fresh conversation"
		text += "\n/reload - Reload the knowledge base (admins)"
		b.send(ctx, chatID, text)

	case "help":
		text := "Available commands:"
		text += "\n/start - Start or restart the bot"
		text += "\n/help - Show this help message"
		text += "\n/reset - Start a fresh conversation"
		text += "\n/reload - Reload the knowledge base (admins)"
		b.send(ctx, chatID, text)

	case "reset":
		b.mutex.Lock()
		b.epochs[chatID]++
		b.mutex.Unlock()
		logger.Info("Chat[%d]: User reset conversation.", chatID)
		b.send(ctx, chatID, "✅ Conversation reset. Your previous messages no longer influence my answers.")

	case "reload":
		if b.policy != nil && !b.policy.CanManageKnowledge(userID) {
			b.send(ctx, chatID, "Sorry, only admins can reload the knowledge base.")
			return
		}
		if b.knowledge == nil || len(b.sources) == 0 {
			b.send(ctx, chatID, "No knowledge sources are configured.")
			return
		}
		recreate := strings.Contains(message.Text, "recreate")
		b.send(ctx, chatID, "Reloading knowledge base...")
		results, err := b.knowledge.IngestAll(ctx, b.sources, recreate)
		if err != nil {
			logger.Error("Chat[%d]: Knowledge reload failed: %v", chatID, err)
			b.send(ctx, chatID, "Reload failed: "+err.Error())
			return
		}
		loaded, skipped := 0, 0
		for _, res := range results {
			loaded += res.ChunksLoaded
			if res.Skipped {
				skipped++
			}
		}
		b.send(ctx, chatID, fmt.Sprintf("✅ Reload complete: %d chunks loaded, %d sources unchanged.", loaded, skipped))

	default:
		logger.Info("Chat[%d] User[%d]: Unknown command: /%s", chatID, userID, command)
		b.send(ctx, chatID, "Unknown command. Try /help to see available commands.")
	}
}

// handleTextMessage runs one agent turn for the chat.
func (b *Bot) handleTextMessage(ctx context.Context, message *models.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	logger.Info("Chat[%d] User[%d]: Received text message.", chatID, userID)

	typingDone := make(chan struct{})
	go b.sendContinuousTypingAction(ctx, chatID, typingDone)
	defer close(typingDone)

	resp, err := b.agent.Run(ctx, b.sessionID(chatID), message.Text, nil)
	if err != nil {
		logger.Error("Chat[%d] User[%d]: Turn failed: %v", chatID, userID, err)
		b.send(ctx, chatID, "Sorry, I encountered an error while processing your request.")
		return
	}
	if resp.Degraded {
		logger.Warn("Chat[%d]: Turn completed with degraded context.", chatID)
	}
	if !resp.Persisted {
		logger.Warn("Chat[%d]: Turn was not persisted: %v", chatID, resp.PersistErr)
	}

	preview := resp.Content
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	logger.Info("Chat[%d]: Sending response: %q", chatID, preview)
	b.send(ctx, chatID, resp.Content)
}

// sendContinuousTypingAction keeps the typing indicator alive until the
// done channel closes. Telegram's typing status expires after ~5 seconds.
func (b *Bot) sendContinuousTypingAction(ctx context.Context, chatID int64, done chan struct{}) {
	b.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.bot.SendChatAction(ctx, &bot.SendChatActionParams{
				ChatID: chatID,
				Action: models.ChatActionTyping,
			})
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if _, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		logger.Error("Chat[%d]: Failed to send message: %v", chatID, err)
	}
}
