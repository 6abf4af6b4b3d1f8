package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/dispatch"
	"nft-sale-alerts/internal/ledger"
	"nft-sale-alerts/internal/model"
)

// SimulateSale 通过合成的销售事件验证频道配置，不会写入账本文件。
func (a *App) SimulateSale(ctx context.Context, collection string, price decimal.Decimal) error {
	notifiers := a.newChannels()
	if len(notifiers) == 0 {
		return errors.New("未配置任何通知频道")
	}

	sale := model.EnrichedSale{
		Raw: model.RawSale{
			ID:         "simulated-tx",
			Collection: collection,
			TokenID:    "1",
			Name:       "Simulated Sale",
			Price:      price,
			Timestamp:  time.Now().Unix(),
		},
		FloorPrice: price,
		LastSales: []model.SaleEntry{
			{Timestamp: time.Now().Add(-24 * time.Hour).Unix(), Price: price},
		},
	}

	dispatcher := dispatch.New(notifiers, a.Logger)
	scratch := ledger.New(a.Config.Ledger.Path, a.Logger)
	results := dispatcher.Dispatch(ctx, []model.EnrichedSale{sale}, scratch)

	for _, res := range results {
		if len(res.Channels) == 0 {
			a.Logger.Warn().Msg("模拟销售未命中任何频道过滤器")
			continue
		}
		a.Logger.Info().Strs("channels", res.Channels).Msg("模拟销售已发送")
	}
	return nil
}
