package notify

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFilterEmptyAllowlistAcceptsAll(t *testing.T) {
	f := NewFilter(nil, nil)
	if !f.Match("0xanything", decimal.NewFromInt(1)) {
		t.Fatal("空 allowlist 应接受所有 collection")
	}
}

func TestFilterCollectionCaseInsensitive(t *testing.T) {
	f := NewFilter([]string{"0xABCdef"}, nil)
	if !f.Match("0xabcDEF", decimal.NewFromInt(1)) {
		t.Fatal("collection 比较应不区分大小写")
	}
	if f.Match("0x123456", decimal.NewFromInt(1)) {
		t.Fatal("不在 allowlist 中的 collection 应被过滤")
	}
}

func TestFilterMinPrice(t *testing.T) {
	min := decimal.NewFromInt(2)
	f := NewFilter([]string{"abc"}, &min)

	if f.Match("ABC", decimal.RequireFromString("1.5")) {
		t.Fatal("低于 minPrice 的销售应被过滤")
	}
	if !f.Match("ABC", decimal.RequireFromString("2.5")) {
		t.Fatal("高于 minPrice 的销售应通过")
	}
	if !f.Match("abc", decimal.NewFromInt(2)) {
		t.Fatal("等于 minPrice 的销售应通过")
	}
}
