package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateCollection string
	simulatePrice      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Send a synthetic sale through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}

		return getApp().SimulateSale(cmd.Context(), simulateCollection, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCollection, "collection", "0x0000000000000000000000000000000000000000", "Collection contract address of the synthetic sale")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "1", "Native price of the synthetic sale")
}
