package serum

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// NodeTag identifies the variant stored in a slab slot.
type NodeTag uint32

const (
	NodeUninitialized NodeTag = 0
	NodeInner         NodeTag = 1
	NodeLeaf          NodeTag = 2
	NodeFree          NodeTag = 3
	NodeLastFree      NodeTag = 4
)

func (t NodeTag) String() string {
	switch t {
	case NodeUninitialized:
		return "uninitialized"
	case NodeInner:
		return "inner"
	case NodeLeaf:
		return "leaf"
	case NodeFree:
		return "free"
	case NodeLastFree:
		return "last_free"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// SlabHeader is the 32 byte header of the critbit arena.
type SlabHeader struct {
	BumpIndex      uint32
	FreeListLength uint32
	FreeListHead   uint32
	Root           uint32
	LeafCount      uint32
}

// InnerNode branches on the first PrefixLen bits of Key. Bits past the
// prefix are cleared.
type InnerNode struct {
	PrefixLen uint32
	Key       bin.Uint128
	Children  [2]uint32
}

// LeafNode is a resting order. The high 64 bits of Key are the price, the low
// 64 bits the sequence number that orders equal prices.
type LeafNode struct {
	OwnerSlot     uint8
	FeeTier       uint8
	Key           bin.Uint128
	Owner         solana.PublicKey
	Quantity      uint64
	ClientOrderID uint64
}

func (l *LeafNode) Price() uint64 { return l.Key.Hi }
func (l *LeafNode) Seq() uint64   { return l.Key.Lo }

// SlabNode is a decoded arena slot. Exactly one of Inner and Leaf is set,
// matching Tag.
type SlabNode struct {
	Index uint32
	Tag   NodeTag
	Inner *InnerNode
	Leaf  *LeafNode
}

// Slab is one decoded order book side arena. Nodes holds the inner and leaf
// slots in arena order; free and uninitialized slots are dropped.
type Slab struct {
	Header    SlabHeader
	Capacity  uint32
	Nodes     []SlabNode
	Malformed []NodeError
}

// Leaves returns the leaf nodes in arena order.
func (s *Slab) Leaves() []SlabNode {
	leaves := make([]SlabNode, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Tag == NodeLeaf {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// DecodeSlab decodes the slab header followed by the flat node array. data
// must start right after the account flags and exclude the tail padding.
func DecodeSlab(data []byte) (*Slab, error) {
	if err := minLength("slab", data, SlabHeaderSize); err != nil {
		return nil, err
	}
	r := NewReader(data)
	header := SlabHeader{
		BumpIndex:      r.U32(slabBumpIndexOffset),
		FreeListLength: r.U32(slabFreeListLenOffset),
		FreeListHead:   r.U32(slabFreeListHeadOffset),
		Root:           r.U32(slabRootOffset),
		LeafCount:      r.U32(slabLeafCountOffset),
	}
	capacity := uint32((len(data) - SlabHeaderSize) / SlabNodeSize)
	if header.BumpIndex > capacity {
		return nil, &LengthError{
			Structure: "slab",
			Want:      SlabHeaderSize + int(header.BumpIndex)*SlabNodeSize,
			Got:       len(data),
			AtLeast:   true,
		}
	}
	if header.LeafCount > header.BumpIndex {
		return nil, fmt.Errorf("%w: leaf count %d exceeds bump index %d", ErrMalformedNode, header.LeafCount, header.BumpIndex)
	}

	slab := &Slab{
		Header:   header,
		Capacity: capacity,
		Nodes:    make([]SlabNode, 0, header.BumpIndex),
	}
	var leaves uint32
	for i := uint32(0); i < header.BumpIndex; i++ {
		slot := r.Sub(SlabHeaderSize+int(i)*SlabNodeSize, SlabNodeSize)
		tag := NodeTag(slot.U32(0))
		blob := slot.Sub(slabNodeTagSize, SlabNodeSize-slabNodeTagSize)

		switch tag {
		case NodeInner:
			inner, err := decodeInner(blob)
			if err != nil {
				slab.Malformed = append(slab.Malformed, NodeError{Index: i, Err: err})
				continue
			}
			slab.Nodes = append(slab.Nodes, SlabNode{Index: i, Tag: tag, Inner: inner})
		case NodeLeaf:
			if leaves >= header.LeafCount {
				slab.Malformed = append(slab.Malformed, NodeError{
					Index: i,
					Err:   fmt.Errorf("%w: leaf beyond header leaf count %d", ErrMalformedNode, header.LeafCount),
				})
				continue
			}
			leaves++
			slab.Nodes = append(slab.Nodes, SlabNode{Index: i, Tag: tag, Leaf: decodeLeaf(blob)})
		default:
			// uninitialized, free, last free and unknown tags are holes
		}
	}
	return slab, nil
}

func decodeInner(r Reader) (*InnerNode, error) {
	prefixLen := r.U32(innerPrefixLenOffset)
	if prefixLen > maxPrefixLen {
		return nil, fmt.Errorf("%w: prefix length %d exceeds %d bits", ErrMalformedNode, prefixLen, maxPrefixLen)
	}
	// keep only the bytes covered by the prefix; the key is little-endian so
	// the most significant bytes are at the end
	var key [16]byte
	keep := int((prefixLen + 7) / 8)
	copy(key[16-keep:], r.Slice(innerKeyOffset+16-keep, keep))

	return &InnerNode{
		PrefixLen: prefixLen,
		Key:       NewReader(key[:]).U128(0),
		Children:  [2]uint32{r.U32(innerChildrenOffset), r.U32(innerChildrenOffset + 4)},
	}, nil
}

func decodeLeaf(r Reader) *LeafNode {
	return &LeafNode{
		OwnerSlot:     r.U8(leafOwnerSlotOffset),
		FeeTier:       r.U8(leafFeeTierOffset),
		Key:           r.U128(leafKeyOffset),
		Owner:         r.PublicKey(leafOwnerOffset),
		Quantity:      r.U64(leafQuantityOffset),
		ClientOrderID: r.U64(leafClientOrderIDOffset),
	}
}
