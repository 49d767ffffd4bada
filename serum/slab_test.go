package serum_test

import (
	"errors"
	"reflect"
	"testing"

	"serumflow/serum"
	"serumflow/serum/serumtest"
)

func slabBody(t *testing.T, side []byte) []byte {
	t.Helper()
	// strip head padding, account flags and tail padding
	return side[5+8 : len(side)-7]
}

func TestDecodeSlabDropsHoles(t *testing.T) {
	nodes := []serumtest.Node{
		serumtest.Inner(64, serumtest.U128(100, 0), 1, 3),
		serumtest.Leaf(100, 1, 5),
		serumtest.Free(4),
		serumtest.Leaf(101, 2, 7),
		{Tag: serum.NodeUninitialized},
		{Tag: serum.NodeLastFree},
	}
	slab, err := serum.DecodeSlab(serumtest.Slab(nodes, 10))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if slab.Capacity != 10 {
		t.Fatalf("capacity: got %d", slab.Capacity)
	}
	if len(slab.Nodes) != 3 {
		t.Fatalf("expected inner and two leaves, got %d nodes", len(slab.Nodes))
	}
	leaves := slab.Leaves()
	if len(leaves) != 2 || leaves[0].Index != 1 || leaves[1].Index != 3 {
		t.Fatalf("unexpected leaves %+v", leaves)
	}
	if leaves[1].Leaf.Price() != 101 || leaves[1].Leaf.Seq() != 2 || leaves[1].Leaf.Quantity != 7 {
		t.Fatalf("leaf fields: %+v", leaves[1].Leaf)
	}
	if len(slab.Malformed) != 0 {
		t.Fatalf("unexpected malformed nodes %v", slab.Malformed)
	}
}

func TestDecodeSlabCapsLeavesAtLeafCount(t *testing.T) {
	nodes := []serumtest.Node{
		serumtest.Leaf(10, 1, 1),
		serumtest.Leaf(11, 2, 1),
		serumtest.Leaf(12, 3, 1),
	}
	header := serum.SlabHeader{BumpIndex: 3, LeafCount: 1}
	slab, err := serum.DecodeSlab(serumtest.SlabWithHeader(header, nodes, 3))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := len(slab.Leaves()); n != 1 {
		t.Fatalf("expected 1 leaf, got %d", n)
	}
	if len(slab.Malformed) != 2 {
		t.Fatalf("expected 2 malformed leaves, got %v", slab.Malformed)
	}
	for _, m := range slab.Malformed {
		if !errors.Is(m, serum.ErrMalformedNode) {
			t.Fatalf("unexpected error %v", m)
		}
	}
}

func TestDecodeSlabRejectsLeafCountBeyondBumpIndex(t *testing.T) {
	header := serum.SlabHeader{BumpIndex: 1, LeafCount: 0xFFFFFFFF}
	nodes := []serumtest.Node{serumtest.Leaf(10, 1, 5)}

	if _, err := serum.DecodeSlab(serumtest.SlabWithHeader(header, nodes, 4)); !errors.Is(err, serum.ErrMalformedNode) {
		t.Fatalf("expected ErrMalformedNode, got %v", err)
	}
	side, err := serum.DecodeOrderBookSide(serumtest.SideWithHeader(serum.FlagInitialized|serum.FlagBids, header, nodes, 4))
	if !errors.Is(err, serum.ErrMalformedNode) || side != nil {
		t.Fatalf("expected side decode to fail, got %v, %v", side, err)
	}
}

func TestDecodeSlabMalformedInnerKeepsSiblings(t *testing.T) {
	nodes := []serumtest.Node{
		serumtest.Leaf(10, 1, 1),
		serumtest.Inner(200, serumtest.U128(1, 1), 0, 2),
		serumtest.Leaf(11, 2, 1),
	}
	slab, err := serum.DecodeSlab(serumtest.Slab(nodes, 4))
	if err != nil {
		t.Fatalf("a malformed node must not fail the slab: %v", err)
	}
	if n := len(slab.Leaves()); n != 2 {
		t.Fatalf("expected both leaves, got %d", n)
	}
	if len(slab.Malformed) != 1 || slab.Malformed[0].Index != 1 {
		t.Fatalf("unexpected malformed set %v", slab.Malformed)
	}
	if !errors.Is(slab.Malformed[0], serum.ErrMalformedNode) {
		t.Fatalf("unexpected error %v", slab.Malformed[0])
	}
}

func TestDecodeSlabInnerKeyMasked(t *testing.T) {
	tests := []struct {
		prefix uint32
		hi, lo uint64
	}{
		{0, 0, 0},
		{8, 0xab00000000000000, 0},
		{12, 0xabcd000000000000, 0},
		{64, 0xabcdef0123456789, 0},
		{72, 0xabcdef0123456789, 0xff00000000000000},
		{128, 0xabcdef0123456789, 0xffeeddccbbaa9988},
	}
	key := serumtest.U128(0xabcdef0123456789, 0xffeeddccbbaa9988)
	for _, tt := range tests {
		slab, err := serum.DecodeSlab(serumtest.Slab([]serumtest.Node{serumtest.Inner(tt.prefix, key, 1, 2)}, 1))
		if err != nil {
			t.Fatalf("prefix %d: %v", tt.prefix, err)
		}
		inner := slab.Nodes[0].Inner
		if inner.Key.Hi != tt.hi || inner.Key.Lo != tt.lo {
			t.Fatalf("prefix %d: got hi=%#x lo=%#x", tt.prefix, inner.Key.Hi, inner.Key.Lo)
		}
		if inner.Children != [2]uint32{1, 2} {
			t.Fatalf("prefix %d: children %v", tt.prefix, inner.Children)
		}
	}
}

func TestDecodeSlabBumpIndexBeyondCapacity(t *testing.T) {
	header := serum.SlabHeader{BumpIndex: 9, LeafCount: 1}
	_, err := serum.DecodeSlab(serumtest.SlabWithHeader(header, []serumtest.Node{serumtest.Leaf(1, 1, 1)}, 2))
	if !errors.Is(err, serum.ErrLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}
	if _, err := serum.DecodeSlab(make([]byte, 31)); !errors.Is(err, serum.ErrLengthMismatch) {
		t.Fatalf("expected length mismatch for short header, got %v", err)
	}
}

func TestDecodeSlabDeterministic(t *testing.T) {
	nodes := []serumtest.Node{
		serumtest.Inner(60, serumtest.U128(7, 0), 1, 2),
		serumtest.Leaf(7, 1, 3),
		serumtest.Leaf(8, 2, 4),
	}
	data := serumtest.Slab(nodes, 8)
	a, err := serum.DecodeSlab(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, err := serum.DecodeSlab(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("decoding the same bytes twice differs")
	}
}

func TestDecodeOrderBookSide(t *testing.T) {
	data := serumtest.Side(serum.FlagInitialized|serum.FlagAsks, []serumtest.Node{serumtest.Leaf(5, 1, 2)}, 4)
	side, err := serum.DecodeOrderBookSide(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if side.Side() != serum.SideAsk {
		t.Fatalf("side: got %s", side.Side())
	}
	direct, err := serum.DecodeSlab(slabBody(t, data))
	if err != nil {
		t.Fatalf("decode slab: %v", err)
	}
	if !reflect.DeepEqual(side.Slab, direct) {
		t.Fatalf("side slab differs from the raw slab decode")
	}

	for _, flags := range []serum.AccountFlags{
		serum.FlagInitialized | serum.FlagEventQueue,
		serum.FlagInitialized | serum.FlagBids | serum.FlagAsks,
	} {
		bad := serumtest.Side(flags, nil, 1)
		if _, err := serum.DecodeOrderBookSide(bad); !errors.Is(err, serum.ErrUnexpectedFlags) {
			t.Fatalf("flags %s: expected unexpected flags, got %v", flags, err)
		}
	}
}

func TestSortedOrders(t *testing.T) {
	nodes := []serumtest.Node{
		serumtest.Leaf(10, 4, 1),
		serumtest.Leaf(12, 3, 1),
		serumtest.Leaf(12, 1, 1),
		serumtest.Leaf(11, 2, 1),
	}
	type ps struct{ price, seq uint64 }
	tests := []struct {
		flags serum.AccountFlags
		want  []ps
	}{
		{serum.FlagBids, []ps{{12, 1}, {12, 3}, {11, 2}, {10, 4}}},
		{serum.FlagAsks, []ps{{10, 4}, {11, 2}, {12, 1}, {12, 3}}},
	}
	for _, tt := range tests {
		side, err := serum.DecodeOrderBookSide(serumtest.Side(serum.FlagInitialized|tt.flags, nodes, 4))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		var got []ps
		for _, o := range side.SortedOrders() {
			got = append(got, ps{o.Price, o.OrderID.Lo})
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%s: got %v want %v", tt.flags, got, tt.want)
		}
	}
}
