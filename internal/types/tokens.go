package types

import (
	"fmt"
	"strings"
)

// tokenRegistry maps token symbols to devnet mint addresses
var tokenRegistry = map[string]string{
	"SOL":  "So11111111111111111111111111111111111111112",
	"WSOL": "So11111111111111111111111111111111111111112",
	"USDC": "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
	"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
}

// TokenMint resolves a symbol (case-insensitive) to its mint address
func TokenMint(symbol string) (string, error) {
	mint, ok := tokenRegistry[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return mint, nil
}

