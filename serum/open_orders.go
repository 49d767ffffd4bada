package serum

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// OpenOrdersAccount tracks one owner's orders and settled balances on a market.
type OpenOrdersAccount struct {
	Flags                  AccountFlags
	Market                 solana.PublicKey
	Owner                  solana.PublicKey
	BaseTokenFree          uint64
	BaseTokenTotal         uint64
	QuoteTokenFree         uint64
	QuoteTokenTotal        uint64
	FreeSlotBits           bin.Uint128
	IsBidBits              bin.Uint128
	Orders                 [openOrdersSlots]bin.Uint128
	ClientIDs              [openOrdersSlots]uint64
	ReferrerRebatesAccrued uint64
}

// OpenOrder is an occupied slot of an open orders account.
type OpenOrder struct {
	Slot          int
	Side          Side
	Price         uint64
	OrderID       bin.Uint128
	ClientOrderID uint64
}

// DecodeOpenOrdersAccount decodes a 3228 byte open orders account.
func DecodeOpenOrdersAccount(data []byte) (*OpenOrdersAccount, error) {
	if err := exactLength("open orders", data, OpenOrdersSize); err != nil {
		return nil, err
	}
	r := NewReader(data[headPadding : len(data)-tailPadding])
	flags := AccountFlags(r.U64(0))
	if !flags.Has(FlagOpenOrders) {
		return nil, ErrUnexpectedFlags
	}

	oo := &OpenOrdersAccount{
		Flags:                  flags,
		Market:                 r.PublicKey(openOrdersMarketOffset),
		Owner:                  r.PublicKey(openOrdersOwnerOffset),
		BaseTokenFree:          r.U64(openOrdersBaseFreeOffset),
		BaseTokenTotal:         r.U64(openOrdersBaseTotalOffset),
		QuoteTokenFree:         r.U64(openOrdersQuoteFreeOffset),
		QuoteTokenTotal:        r.U64(openOrdersQuoteTotalOffset),
		FreeSlotBits:           r.U128(openOrdersFreeSlotBitsOffset),
		IsBidBits:              r.U128(openOrdersIsBidBitsOffset),
		ReferrerRebatesAccrued: r.U64(openOrdersReferrerRebatesOffset),
	}
	for i := 0; i < openOrdersSlots; i++ {
		oo.Orders[i] = r.U128(openOrdersOrdersOffset + i*16)
		oo.ClientIDs[i] = r.U64(openOrdersClientIDsOffset + i*8)
	}
	return oo, nil
}

// OpenOrders lists the occupied slots. A cleared free-slot bit marks a slot in
// use.
func (o *OpenOrdersAccount) OpenOrders() []OpenOrder {
	var out []OpenOrder
	for i := 0; i < openOrdersSlots; i++ {
		if bit128(o.FreeSlotBits, i) {
			continue
		}
		side := SideAsk
		if bit128(o.IsBidBits, i) {
			side = SideBid
		}
		out = append(out, OpenOrder{
			Slot:          i,
			Side:          side,
			Price:         o.Orders[i].Hi,
			OrderID:       o.Orders[i],
			ClientOrderID: o.ClientIDs[i],
		})
	}
	return out
}

func bit128(v bin.Uint128, i int) bool {
	if i < 64 {
		return v.Lo&(1<<uint(i)) != 0
	}
	return v.Hi&(1<<uint(i-64)) != 0
}
