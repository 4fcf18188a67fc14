package tiingo

import "strings"

// CleanSymbol converts a canonical symbol to Tiingo's ticker format: the US
// exchange suffix is dropped, other share-class dots become hyphens
// (BRK.A -> BRK-A) and currency slashes are removed.
func CleanSymbol(symbol string) string {
	if idx := strings.Index(symbol, "."); idx >= 0 {
		if symbol[idx+1:] == "US" {
			return symbol[:idx]
		}
		return strings.ReplaceAll(symbol, ".", "-")
	}
	if strings.Contains(symbol, "/") {
		return strings.ReplaceAll(symbol, "/", "")
	}
	return symbol
}

// DisplaySymbol appends the US exchange suffix to bare tickers.
func DisplaySymbol(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + ".US"
}
