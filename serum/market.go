package serum

import "github.com/gagliardetto/solana-go"

// Market is the static metadata of a dex market.
type Market struct {
	Flags                  AccountFlags
	OwnAddress             solana.PublicKey
	VaultSignerNonce       uint64
	BaseMint               solana.PublicKey
	QuoteMint              solana.PublicKey
	BaseVault              solana.PublicKey
	BaseDepositsTotal      uint64
	BaseFeesAccrued        uint64
	QuoteVault             solana.PublicKey
	QuoteDepositsTotal     uint64
	QuoteFeesAccrued       uint64
	QuoteDustThreshold     uint64
	RequestQueue           solana.PublicKey
	EventQueue             solana.PublicKey
	Bids                   solana.PublicKey
	Asks                   solana.PublicKey
	BaseLotSize            uint64
	QuoteLotSize           uint64
	FeeRateBps             uint64
	ReferrerRebatesAccrued uint64
}

// DecodeMarket decodes a 388 byte market account.
func DecodeMarket(data []byte) (*Market, error) {
	if err := exactLength("market", data, MarketSize); err != nil {
		return nil, err
	}
	r := NewReader(data[headPadding : len(data)-tailPadding])

	m := &Market{
		Flags:                  AccountFlags(r.U64(0)),
		OwnAddress:             r.PublicKey(marketOwnAddressOffset),
		VaultSignerNonce:       r.U64(marketVaultSignerNonceOffset),
		BaseMint:               r.PublicKey(marketBaseMintOffset),
		QuoteMint:              r.PublicKey(marketQuoteMintOffset),
		BaseVault:              r.PublicKey(marketBaseVaultOffset),
		BaseDepositsTotal:      r.U64(marketBaseDepositsTotalOffset),
		BaseFeesAccrued:        r.U64(marketBaseFeesAccruedOffset),
		QuoteVault:             r.PublicKey(marketQuoteVaultOffset),
		QuoteDepositsTotal:     r.U64(marketQuoteDepositsTotalOffset),
		QuoteFeesAccrued:       r.U64(marketQuoteFeesAccruedOffset),
		QuoteDustThreshold:     r.U64(marketQuoteDustThresholdOffset),
		RequestQueue:           r.PublicKey(marketRequestQueueOffset),
		EventQueue:             r.PublicKey(marketEventQueueOffset),
		Bids:                   r.PublicKey(marketBidsOffset),
		Asks:                   r.PublicKey(marketAsksOffset),
		BaseLotSize:            r.U64(marketBaseLotSizeOffset),
		QuoteLotSize:           r.U64(marketQuoteLotSizeOffset),
		FeeRateBps:             r.U64(marketFeeRateBpsOffset),
		ReferrerRebatesAccrued: r.U64(marketReferrerRebatesAccruedOffset),
	}
	return m, nil
}
