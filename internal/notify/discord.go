package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/model"
)

// DiscordNotifier 通过 Discord webhook 推送销售 embed。
type DiscordNotifier struct {
	name       string
	webhookURL string
	botName    string
	filter     Filter
	client     *http.Client
	logger     zerolog.Logger
}

// NewDiscordNotifier 构造 Discord 通知器。webhookURL 由调用方从环境变量解析。
func NewDiscordNotifier(name, webhookURL, botName string, filter Filter, timeout time.Duration, logger zerolog.Logger) *DiscordNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordNotifier{
		name:       name,
		webhookURL: webhookURL,
		botName:    botName,
		filter:     filter,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "notify_discord").Str("channel", name).Logger(),
	}
}

// Name identifies the channel in logs and audit records.
func (n *DiscordNotifier) Name() string {
	return n.name
}

// ShouldNotify applies the channel filter.
func (n *DiscordNotifier) ShouldNotify(collection string, price decimal.Decimal) bool {
	return n.filter.Match(collection, price)
}

// Notify 调用 webhook 推送 embed 消息。
func (n *DiscordNotifier) Notify(ctx context.Context, sale model.EnrichedSale) error {
	payload := webhookPayload{
		Username: n.botName,
		Embeds:   []embed{renderEmbed(sale)},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord 响应码异常: %d", resp.StatusCode)
	}

	n.logger.Debug().Str("name", sale.Raw.Name).Msg("销售通知已发送 (Discord)")
	return nil
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content"`
	Embeds   []embed `json:"embeds"`
}

type embed struct {
	Fields    []embedField `json:"fields"`
	Image     *embedMedia  `json:"image,omitempty"`
	Thumbnail *embedMedia  `json:"thumbnail,omitempty"`
	Footer    *embedFooter `json:"footer,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedMedia struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func renderEmbed(sale model.EnrichedSale) embed {
	e := embed{
		Fields: []embedField{
			{
				Name:  fmt.Sprintf("%s was sold", sale.Raw.Name),
				Value: fmt.Sprintf("Token #%s of %s", sale.Raw.TokenID, sale.Raw.Collection),
			},
		},
		Footer: &embedFooter{Text: sale.SoldAt().Format(time.RFC1123)},
	}
	if sale.Raw.ImageURL != "" {
		e.Image = &embedMedia{URL: sale.Raw.ImageURL}
	}

	e.Fields = append(e.Fields, embedField{
		Name:   "Sold for",
		Value:  renderPrice(sale.Raw.Price, sale.ReferencePrice),
		Inline: true,
	})
	if last, ok := sale.LastSoldFor(); ok {
		e.Fields = append(e.Fields, embedField{
			Name:   "Last sold for",
			Value:  renderPrice(last, sale.ReferencePrice),
			Inline: true,
		})
	}
	if !sale.FloorPrice.IsZero() {
		e.Fields = append(e.Fields, embedField{
			Name:  "Price Floor",
			Value: renderPrice(sale.FloorPrice, sale.ReferencePrice),
		})
	}
	return e
}

func renderPrice(native, reference decimal.Decimal) string {
	if reference.IsZero() {
		return fmt.Sprintf("%s AVAX", native.StringFixed(2))
	}
	return fmt.Sprintf("%s AVAX ($%s)", native.StringFixed(2), native.Mul(reference).StringFixed(2))
}

var _ Notifier = (*DiscordNotifier)(nil)
