package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/model"
)

// TelegramNotifier 通过 Telegram Bot API 推送销售消息。
type TelegramNotifier struct {
	name     string
	botToken string
	chatID   string
	baseURL  string
	filter   Filter
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(name, botToken, chatID, baseURL string, filter Filter, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		name:     name,
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		filter:   filter,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Str("channel", name).Logger(),
	}
}

// Name identifies the channel in logs and audit records.
func (n *TelegramNotifier) Name() string {
	return n.name
}

// ShouldNotify applies the channel filter.
func (n *TelegramNotifier) ShouldNotify(collection string, price decimal.Decimal) bool {
	return n.filter.Match(collection, price)
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, sale model.EnrichedSale) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(sale),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Debug().Str("name", sale.Raw.Name).Msg("销售通知已发送 (Telegram)")
	return nil
}

func renderMessage(sale model.EnrichedSale) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[NFT Sale] %s\n", sale.Raw.Name))
	builder.WriteString(fmt.Sprintf("Collection: %s\n", sale.Raw.Collection))
	builder.WriteString(fmt.Sprintf("Token: #%s\n", sale.Raw.TokenID))
	builder.WriteString(fmt.Sprintf("Sold for: %s\n", renderPrice(sale.Raw.Price, sale.ReferencePrice)))
	if last, ok := sale.LastSoldFor(); ok {
		builder.WriteString(fmt.Sprintf("Last sold for: %s\n", renderPrice(last, sale.ReferencePrice)))
	}
	if !sale.FloorPrice.IsZero() {
		builder.WriteString(fmt.Sprintf("Price floor: %s\n", renderPrice(sale.FloorPrice, sale.ReferencePrice)))
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", sale.SoldAt().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
