package main

import (
	"nft-sale-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
