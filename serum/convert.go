package serum

import "math"

// PriceLotsToHuman converts a price in quote lots per base lot into quote
// units per base unit.
func PriceLotsToHuman(price uint64, baseDecimals, quoteDecimals uint8, baseLotSize, quoteLotSize uint64) float64 {
	num := float64(price) * float64(quoteLotSize) * pow10(baseDecimals)
	den := float64(baseLotSize) * pow10(quoteDecimals)
	if den == 0 {
		return 0
	}
	return num / den
}

// HumanToPriceLots is the inverse of PriceLotsToHuman, rounded to the
// nearest lot.
func HumanToPriceLots(price float64, baseDecimals, quoteDecimals uint8, baseLotSize, quoteLotSize uint64) uint64 {
	den := float64(quoteLotSize) * pow10(baseDecimals)
	if den == 0 {
		return 0
	}
	return uint64(math.Round(price * float64(baseLotSize) * pow10(quoteDecimals) / den))
}

// QuantityLotsToHuman converts a quantity in base lots into base units.
func QuantityLotsToHuman(qty uint64, baseLotSize uint64, baseDecimals uint8) float64 {
	return float64(qty) * float64(baseLotSize) / pow10(baseDecimals)
}

// HumanToLots converts a human quantity into lots, rounded to the nearest lot.
func HumanToLots(qty float64, lotSize uint64, decimals uint8) uint64 {
	if lotSize == 0 {
		return 0
	}
	return uint64(math.Round(qty * pow10(decimals) / float64(lotSize)))
}

// NativeToHuman scales a native token amount by its decimals.
func NativeToHuman(amount uint64, decimals uint8) float64 {
	return float64(amount) / pow10(decimals)
}

func pow10(n uint8) float64 {
	return math.Pow10(int(n))
}
