// Package serumtest builds raw dex account buffers for tests.
package serumtest

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"serumflow/serum"
)

const (
	head = 5
	tail = 7
)

// Key returns a deterministic public key derived from seed.
func Key(seed byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

// U128 builds a 128-bit value from its high and low words.
func U128(hi, lo uint64) bin.Uint128 {
	return bin.Uint128{Hi: hi, Lo: lo, Endianness: bin.LE}
}

func putU128(b []byte, v bin.Uint128) {
	bin.LE.PutUint64(b[0:8], v.Lo)
	bin.LE.PutUint64(b[8:16], v.Hi)
}

func frame(size int) ([]byte, []byte) {
	buf := make([]byte, size)
	copy(buf, "serum")
	copy(buf[size-tail:], "padding")
	return buf, buf[head : size-tail]
}

// Market encodes m as a 388 byte market account.
func Market(m serum.Market) []byte {
	buf, b := frame(serum.MarketSize)
	bin.LE.PutUint64(b[0:], uint64(m.Flags))
	copy(b[8:], m.OwnAddress[:])
	bin.LE.PutUint64(b[40:], m.VaultSignerNonce)
	copy(b[48:], m.BaseMint[:])
	copy(b[80:], m.QuoteMint[:])
	copy(b[112:], m.BaseVault[:])
	bin.LE.PutUint64(b[144:], m.BaseDepositsTotal)
	bin.LE.PutUint64(b[152:], m.BaseFeesAccrued)
	copy(b[160:], m.QuoteVault[:])
	bin.LE.PutUint64(b[192:], m.QuoteDepositsTotal)
	bin.LE.PutUint64(b[200:], m.QuoteFeesAccrued)
	bin.LE.PutUint64(b[208:], m.QuoteDustThreshold)
	copy(b[216:], m.RequestQueue[:])
	copy(b[248:], m.EventQueue[:])
	copy(b[280:], m.Bids[:])
	copy(b[312:], m.Asks[:])
	bin.LE.PutUint64(b[344:], m.BaseLotSize)
	bin.LE.PutUint64(b[352:], m.QuoteLotSize)
	bin.LE.PutUint64(b[360:], m.FeeRateBps)
	bin.LE.PutUint64(b[368:], m.ReferrerRebatesAccrued)
	return buf
}

// Mint encodes an initialized SPL mint with the given decimals.
func Mint(decimals uint8) []byte {
	buf := make([]byte, serum.MintSize)
	buf[44] = decimals
	buf[45] = 1
	return buf
}

// QueueHeader encodes a 37 byte queue header.
func QueueHeader(h serum.QueueHeader) []byte {
	buf := make([]byte, serum.QueueHeaderSize)
	copy(buf, "serum")
	b := buf[head:]
	bin.LE.PutUint64(b[0:], uint64(h.Flags))
	bin.LE.PutUint32(b[8:], h.Head)
	bin.LE.PutUint32(b[16:], h.Count)
	bin.LE.PutUint32(b[24:], h.NextSeqNum)
	return buf
}

// Event encodes an 88 byte event record.
func Event(ev serum.Event) []byte {
	b := make([]byte, serum.EventSize)
	b[0] = byte(ev.Flags)
	b[1] = ev.OpenOrderSlot
	b[2] = ev.FeeTier
	bin.LE.PutUint64(b[8:], ev.NativeQtyReleased)
	bin.LE.PutUint64(b[16:], ev.NativeQtyPaid)
	bin.LE.PutUint64(b[24:], ev.NativeFeeOrRebate)
	putU128(b[32:48], ev.OrderID)
	copy(b[48:], ev.Owner[:])
	bin.LE.PutUint64(b[80:], ev.ClientOrderID)
	return b
}

// EventQueue encodes an event queue account whose raw slots hold slots, in
// slot index order.
func EventQueue(h serum.QueueHeader, slots []serum.Event) []byte {
	buf := append([]byte{}, QueueHeader(h)...)
	for _, ev := range slots {
		buf = append(buf, Event(ev)...)
	}
	return append(buf, "padding"...)
}

// Ring simulates the on-chain event queue: a fixed number of slots, events
// pushed at head+count and a sequence number that only grows.
type Ring struct {
	Slots  []serum.Event
	Header serum.QueueHeader
}

// NewRing returns an empty ring with capacity slots.
func NewRing(capacity int) *Ring {
	return &Ring{
		Slots:  make([]serum.Event, capacity),
		Header: serum.QueueHeader{Flags: serum.FlagInitialized | serum.FlagEventQueue},
	}
}

// Push appends events. When the ring is full the oldest event is consumed.
func (r *Ring) Push(events ...serum.Event) {
	n := uint32(len(r.Slots))
	for _, ev := range events {
		if r.Header.Count == n {
			r.Header.Head = (r.Header.Head + 1) % n
			r.Header.Count--
		}
		r.Slots[(r.Header.Head+r.Header.Count)%n] = ev
		r.Header.Count++
		r.Header.NextSeqNum++
	}
}

// Consume pops up to k events from the head, as the crank does.
func (r *Ring) Consume(k uint32) {
	if k > r.Header.Count {
		k = r.Header.Count
	}
	r.Header.Head = (r.Header.Head + k) % uint32(len(r.Slots))
	r.Header.Count -= k
}

// Bytes encodes the current ring state.
func (r *Ring) Bytes() []byte {
	return EventQueue(r.Header, r.Slots)
}

// Node is a slab slot to encode.
type Node struct {
	Tag           serum.NodeTag
	PrefixLen     uint32
	Key           bin.Uint128
	Children      [2]uint32
	OwnerSlot     uint8
	FeeTier       uint8
	Owner         solana.PublicKey
	Quantity      uint64
	ClientOrderID uint64
}

// Leaf returns a leaf node for an order at price with time priority seq.
func Leaf(price, seq, qty uint64) Node {
	return Node{
		Tag:           serum.NodeLeaf,
		Key:           U128(price, seq),
		Owner:         Key(byte(seq)),
		Quantity:      qty,
		ClientOrderID: seq,
	}
}

// Inner returns an inner node.
func Inner(prefixLen uint32, key bin.Uint128, left, right uint32) Node {
	return Node{Tag: serum.NodeInner, PrefixLen: prefixLen, Key: key, Children: [2]uint32{left, right}}
}

// Free returns a free slot pointing at next.
func Free(next uint32) Node {
	return Node{Tag: serum.NodeFree, PrefixLen: next}
}

// Slab encodes a slab (header followed by nodes) with room for capacity
// nodes. The header's leaf count is derived from nodes.
func Slab(nodes []Node, capacity int) []byte {
	h := serum.SlabHeader{BumpIndex: uint32(len(nodes))}
	for _, n := range nodes {
		if n.Tag == serum.NodeLeaf {
			h.LeafCount++
		}
	}
	return SlabWithHeader(h, nodes, capacity)
}

// SlabWithHeader encodes nodes under an explicit header.
func SlabWithHeader(h serum.SlabHeader, nodes []Node, capacity int) []byte {
	if capacity < len(nodes) {
		capacity = len(nodes)
	}
	b := make([]byte, serum.SlabHeaderSize+capacity*serum.SlabNodeSize)
	bin.LE.PutUint32(b[0:], h.BumpIndex)
	bin.LE.PutUint32(b[8:], h.FreeListLength)
	bin.LE.PutUint32(b[16:], h.FreeListHead)
	bin.LE.PutUint32(b[20:], h.Root)
	bin.LE.PutUint32(b[24:], h.LeafCount)
	for i, n := range nodes {
		s := b[serum.SlabHeaderSize+i*serum.SlabNodeSize:]
		bin.LE.PutUint32(s[0:], uint32(n.Tag))
		blob := s[4:serum.SlabNodeSize]
		switch n.Tag {
		case serum.NodeInner:
			bin.LE.PutUint32(blob[0:], n.PrefixLen)
			putU128(blob[4:20], n.Key)
			bin.LE.PutUint32(blob[20:], n.Children[0])
			bin.LE.PutUint32(blob[24:], n.Children[1])
		case serum.NodeLeaf:
			blob[0] = n.OwnerSlot
			blob[1] = n.FeeTier
			putU128(blob[4:20], n.Key)
			copy(blob[20:52], n.Owner[:])
			bin.LE.PutUint64(blob[52:], n.Quantity)
			bin.LE.PutUint64(blob[60:], n.ClientOrderID)
		case serum.NodeFree, serum.NodeLastFree:
			bin.LE.PutUint32(blob[0:], n.PrefixLen)
		}
	}
	return b
}

// Side encodes a bids or asks account holding nodes.
func Side(flags serum.AccountFlags, nodes []Node, capacity int) []byte {
	return wrapSlab(flags, Slab(nodes, capacity))
}

// SideWithHeader encodes a bids or asks account under an explicit slab header.
func SideWithHeader(flags serum.AccountFlags, h serum.SlabHeader, nodes []Node, capacity int) []byte {
	return wrapSlab(flags, SlabWithHeader(h, nodes, capacity))
}

func wrapSlab(flags serum.AccountFlags, slab []byte) []byte {
	buf, b := frame(head + 8 + len(slab) + tail)
	bin.LE.PutUint64(b[0:], uint64(flags))
	copy(b[8:], slab)
	return buf
}

// OpenOrders encodes a 3228 byte open orders account.
func OpenOrders(oo serum.OpenOrdersAccount) []byte {
	buf, b := frame(serum.OpenOrdersSize)
	bin.LE.PutUint64(b[0:], uint64(oo.Flags))
	copy(b[8:], oo.Market[:])
	copy(b[40:], oo.Owner[:])
	bin.LE.PutUint64(b[72:], oo.BaseTokenFree)
	bin.LE.PutUint64(b[80:], oo.BaseTokenTotal)
	bin.LE.PutUint64(b[88:], oo.QuoteTokenFree)
	bin.LE.PutUint64(b[96:], oo.QuoteTokenTotal)
	putU128(b[104:120], oo.FreeSlotBits)
	putU128(b[120:136], oo.IsBidBits)
	for i := range oo.Orders {
		putU128(b[136+i*16:], oo.Orders[i])
		bin.LE.PutUint64(b[2184+i*8:], oo.ClientIDs[i])
	}
	bin.LE.PutUint64(b[3208:], oo.ReferrerRebatesAccrued)
	return buf
}
