package notify

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"nft-sale-alerts/internal/model"
)

// Notifier 定义销售通知输送接口。每个实现独立持有自己的过滤配置。
type Notifier interface {
	Name() string
	ShouldNotify(collection string, price decimal.Decimal) bool
	Notify(ctx context.Context, sale model.EnrichedSale) error
}

// Filter 决定某个频道是否需要推送一笔销售。
type Filter struct {
	collections map[string]struct{}
	minPrice    *decimal.Decimal
}

// NewFilter 构造频道过滤器。空 allowlist 表示接受所有 collection。
func NewFilter(collections []string, minPrice *decimal.Decimal) Filter {
	set := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		set[strings.ToLower(c)] = struct{}{}
	}
	return Filter{collections: set, minPrice: minPrice}
}

// Match reports whether a sale passes the collection and price filters.
// Collection ids are compared case-insensitively.
func (f Filter) Match(collection string, price decimal.Decimal) bool {
	if len(f.collections) > 0 {
		if _, ok := f.collections[strings.ToLower(collection)]; !ok {
			return false
		}
	}
	if f.minPrice != nil && price.LessThan(*f.minPrice) {
		return false
	}
	return true
}
