package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ethwatch/wallet-monitor/internal/ethunits"
	"github.com/ethwatch/wallet-monitor/internal/storage"
)

// ErrNotConfigured means no active notification channel exists. Callers
// skip delivery and log; it is never fatal.
var ErrNotConfigured = errors.New("telegram channel not configured")

// channelSource provides the active notification channel credentials.
type channelSource interface {
	GetTelegramConfig() (*storage.TelegramConfig, error)
}

// Notifier delivers operator alerts over Telegram. Credentials are resolved
// from the store on every send so an operator reconfiguration takes effect
// without a restart.
type Notifier struct {
	store channelSource
	log   *slog.Logger

	mu          sync.Mutex
	cached      *bot.Bot
	cachedToken string
}

// New creates a new Notifier
func New(store channelSource, log *slog.Logger) *Notifier {
	return &Notifier{
		store: store,
		log:   log,
	}
}

func (n *Notifier) client(token string) (*bot.Bot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cached != nil && n.cachedToken == token {
		return n.cached, nil
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	n.cached = b
	n.cachedToken = token
	return b, nil
}

// Send delivers a message to the configured operator chat.
func (n *Notifier) Send(ctx context.Context, text string) error {
	cfg, err := n.store.GetTelegramConfig()
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotConfigured
	}
	if err != nil {
		return err
	}

	return n.sendWith(ctx, cfg.BotToken, cfg.ChatID, text)
}

// Test verifies connectivity for explicit credentials: getMe plus a hello
// message to the chat. Used before persisting a new channel config.
func (n *Notifier) Test(ctx context.Context, botToken, chatID string) error {
	b, err := bot.New(botToken, bot.WithSkipGetMe())
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	if _, err := b.GetMe(ctx); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}

	disablePreview := true
	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      "🤖 <b>Wallet monitor connected successfully!</b>",
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}

func (n *Notifier) sendWith(ctx context.Context, token, chatID, text string) error {
	b, err := n.client(token)
	if err != nil {
		return err
	}

	disablePreview := true
	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// --- Message formatting ---

// BalanceAlert formats a balance-change alert.
func BalanceAlert(address string, current, previous, change *big.Int) string {
	direction := "increased"
	if change != nil && change.Sign() < 0 {
		direction = "decreased"
	}

	abs := new(big.Int).Abs(change)

	return fmt.Sprintf(
		"🔔 <b>Wallet Balance Alert</b>\n\n"+
			"<b>Address:</b> <code>%s</code>\n"+
			"<b>Current Balance:</b> %s ETH\n"+
			"<b>Previous Balance:</b> %s ETH\n"+
			"<b>Change:</b> %s ETH\n\n"+
			"Balance has %s by %s ETH\n"+
			"<b>Time:</b> %s UTC\n\n"+
			"<a href='https://etherscan.io/address/%s'>View on Etherscan</a>",
		address,
		ethunits.FormatWei(current),
		ethunits.FormatWei(previous),
		ethunits.FormatWeiSigned(change),
		direction,
		ethunits.FormatWei(abs),
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		address,
	)
}

// TransactionNotice formats a notice for an observed incoming transfer.
func TransactionNotice(address string, value *big.Int, txHash string) string {
	return fmt.Sprintf(
		"📥 <b>Incoming Transaction</b>\n\n"+
			"<b>Wallet:</b> <code>%s</code>\n"+
			"<b>Amount:</b> %s ETH\n"+
			"<b>Transaction:</b> <code>%s</code>\n\n"+
			"<a href='https://etherscan.io/tx/%s'>View Transaction</a>",
		address,
		ethunits.FormatWei(value),
		txHash,
		txHash,
	)
}

// ForwardingNotice formats a payment-forwarded notice.
func ForwardingNotice(from, to string, amount *big.Int, txHash string) string {
	return fmt.Sprintf(
		"🔄 <b>Payment Forwarded</b>\n\n"+
			"<b>From:</b> <code>%s</code>\n"+
			"<b>To:</b> <code>%s</code>\n"+
			"<b>Amount:</b> %s ETH\n"+
			"<b>Transaction:</b> <code>%s</code>\n"+
			"<b>Time:</b> %s UTC\n\n"+
			"<a href='https://etherscan.io/tx/%s'>View Transaction</a>",
		from, to,
		ethunits.FormatWei(amount),
		txHash,
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		txHash,
	)
}
