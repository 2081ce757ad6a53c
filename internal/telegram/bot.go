// Package telegram runs the operator bot: the human side of the
// confirmation workflow. Queued signals are listed, confirmed, and rejected
// from chat, and the kill switch can be inspected and reset.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/quantfall/tradegate/internal/domain"
	"github.com/quantfall/tradegate/internal/risk"
)

// Engine is the slice of the trading engine the bot drives.
type Engine interface {
	Mode() domain.Mode
	SetMode(mode domain.Mode) error
	Leverage() int
	SetLeverage(leverage int) error
	PendingSignals(ctx context.Context) ([]domain.PendingSignal, error)
	ConfirmPendingSignal(ctx context.Context, id string) domain.TradeResult
	RejectPendingSignal(ctx context.Context, id string) error
	CloseWithProfit(ctx context.Context, symbol string, percentage float64) error
	Risk() *risk.Manager
}

// Config holds the bot token and authorization list.
type Config struct {
	Token string
	// AllowedChatIDs are the chats permitted to issue commands. Empty means
	// the bot refuses everyone, which is the safe default for a bot that
	// can place live orders.
	AllowedChatIDs []int64
	// UpdateTimeout is the long-poll timeout in seconds. Zero means 30.
	UpdateTimeout int
}

// Bot is the Telegram operator interface.
type Bot struct {
	api     *tgbotapi.BotAPI
	engine  Engine
	allowed map[int64]bool
	timeout int
	logger  *slog.Logger
}

// NewBot creates and authenticates the bot.
func NewBot(cfg Config, eng Engine, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate bot: %w", err)
	}

	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}
	timeout := cfg.UpdateTimeout
	if timeout == 0 {
		timeout = 30
	}

	return &Bot{
		api:     api,
		engine:  eng,
		allowed: allowed,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "telegram_bot")),
	}, nil
}

// Run long-polls for commands until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("operator bot started",
		slog.String("username", b.api.Self.UserName),
		slog.Int("allowed_chats", len(b.allowed)),
	)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.allowed[chatID] {
		b.logger.Warn("command from unauthorized chat",
			slog.Int64("chat_id", chatID),
			slog.String("command", msg.Command()),
		)
		return
	}

	args := strings.Fields(msg.CommandArguments())

	var reply string
	switch msg.Command() {
	case "pending":
		reply = b.cmdPending(ctx)
	case "confirm":
		reply = b.cmdConfirm(ctx, args)
	case "reject":
		reply = b.cmdReject(ctx, args)
	case "status":
		reply = b.cmdStatus()
	case "mode":
		reply = b.cmdMode(args)
	case "leverage":
		reply = b.cmdLeverage(args)
	case "close":
		reply = b.cmdClose(ctx, args)
	case "reset":
		b.engine.Risk().ResetKillSwitch()
		reply = "Kill switch reset, daily loss cleared."
	case "help", "start":
		reply = helpText
	default:
		reply = "Unknown command. Try /help."
	}

	if reply == "" {
		return
	}
	out := tgbotapi.NewMessage(chatID, reply)
	if _, err := b.api.Send(out); err != nil {
		b.logger.Error("send reply failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

const helpText = `Commands:
/pending - list signals awaiting confirmation
/confirm <id> - execute a queued signal
/reject <id> - discard a queued signal
/status - mode, leverage, kill switch, daily loss
/mode <paper|semi_auto|auto> - switch operating mode
/leverage <1-125> - set entry leverage
/close <symbol> [pct] - close a position (default 100%)
/reset - reset the kill switch`

func (b *Bot) cmdPending(ctx context.Context) string {
	pending, err := b.engine.PendingSignals(ctx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(pending) == 0 {
		return "No signals awaiting confirmation."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending signal(s):\n", len(pending))
	for _, ps := range pending {
		fmt.Fprintf(&sb, "\n%s\n  %s %s @ %.4f (stop %.4f)\n  queued %s\n",
			ps.ID, ps.Signal.Action, ps.Symbol,
			ps.Signal.Entry, ps.Signal.StopLoss,
			ps.CreatedAt.Format("2006-01-02 15:04:05 MST"),
		)
	}
	return sb.String()
}

func (b *Bot) cmdConfirm(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /confirm <id>"
	}
	res := b.engine.ConfirmPendingSignal(ctx, args[0])
	if !res.Success {
		return fmt.Sprintf("Execution failed: %s", res.Reason)
	}
	return fmt.Sprintf("Executed: qty %.6f, entry order %s", res.Quantity, res.EntryOrder.OrderID)
}

func (b *Bot) cmdReject(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /reject <id>"
	}
	if err := b.engine.RejectPendingSignal(ctx, args[0]); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return "Signal rejected."
}

func (b *Bot) cmdStatus() string {
	rm := b.engine.Risk()
	ks := rm.KillSwitchActive()
	status := "inactive"
	if ks {
		status = "ACTIVE"
	}
	return fmt.Sprintf(
		"Mode: %s\nLeverage: %dx\nKill switch: %s\nDaily loss: %.2f",
		b.engine.Mode(), b.engine.Leverage(), status, rm.DailyLoss(),
	)
}

func (b *Bot) cmdMode(args []string) string {
	if len(args) != 1 {
		return "Usage: /mode <paper|semi_auto|auto>"
	}
	mode, err := domain.ParseMode(args[0])
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if err := b.engine.SetMode(mode); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Mode set to %s.", mode)
}

func (b *Bot) cmdLeverage(args []string) string {
	if len(args) != 1 {
		return "Usage: /leverage <1-125>"
	}
	lev, err := strconv.Atoi(args[0])
	if err != nil {
		return "Leverage must be an integer."
	}
	if err := b.engine.SetLeverage(lev); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Leverage set to %dx.", lev)
}

func (b *Bot) cmdClose(ctx context.Context, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "Usage: /close <symbol> [pct]"
	}
	pct := 100.0
	if len(args) == 2 {
		var err error
		pct, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "Percentage must be a number."
		}
	}
	if err := b.engine.CloseWithProfit(ctx, strings.ToUpper(args[0]), pct); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Close requested: %s %.1f%%.", strings.ToUpper(args[0]), pct)
}
