package serum

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// QueueHeader describes the logical window of a circular queue.
type QueueHeader struct {
	Flags      AccountFlags
	Head       uint32
	Count      uint32
	NextSeqNum uint32
}

// DecodeQueueHeader decodes the 37 byte header that prefixes event and
// request queues.
func DecodeQueueHeader(data []byte) (*QueueHeader, error) {
	if err := exactLength("queue header", data, QueueHeaderSize); err != nil {
		return nil, err
	}
	r := NewReader(data[headPadding : len(data)-queueHeaderTailPadding])
	return &QueueHeader{
		Flags:      AccountFlags(r.U64(0)),
		Head:       r.U32(queueHeadOffset),
		Count:      r.U32(queueCountOffset),
		NextSeqNum: r.U32(queueNextSeqNumOffset),
	}, nil
}

// Event is one 88 byte record of the event queue.
type Event struct {
	Flags             EventFlags
	OpenOrderSlot     uint8
	FeeTier           uint8
	NativeQtyReleased uint64
	NativeQtyPaid     uint64
	NativeFeeOrRebate uint64
	OrderID           bin.Uint128
	Owner             solana.PublicKey
	ClientOrderID     uint64
}

// DecodeEvent decodes a single event record.
func DecodeEvent(data []byte) (*Event, error) {
	if err := exactLength("event", data, EventSize); err != nil {
		return nil, err
	}
	ev := decodeEvent(NewReader(data))
	return &ev, nil
}

func decodeEvent(r Reader) Event {
	return Event{
		Flags:             EventFlags(r.U8(eventFlagsOffset)),
		OpenOrderSlot:     r.U8(eventOpenOrderSlotOffset),
		FeeTier:           r.U8(eventFeeTierOffset),
		NativeQtyReleased: r.U64(eventNativeQtyReleasedOffset),
		NativeQtyPaid:     r.U64(eventNativeQtyPaidOffset),
		NativeFeeOrRebate: r.U64(eventNativeFeeOrRebateOffset),
		OrderID:           r.U128(eventOrderIDOffset),
		Owner:             r.PublicKey(eventOwnerOffset),
		ClientOrderID:     r.U64(eventClientOrderIDOffset),
	}
}

// EventQueue holds a decoded event queue. Events are ordered newest first.
type EventQueue struct {
	Header      QueueHeader
	NumElements uint32
	Events      []Event
}

// Live returns the events inside the header's [head, head+count) window,
// newest first.
func (q *EventQueue) Live() []Event {
	if q.NumElements == 0 || len(q.Events) < int(q.NumElements) {
		return q.Events
	}
	n := q.Header.Count
	if n > q.NumElements {
		n = q.NumElements
	}
	return q.Events[:n]
}

// DecodeEventQueue decodes every slot of the ring buffer in logical order,
// most recently appended first. The result always holds NumElements events:
// slots outside the live window are surfaced too so that callers can diff
// snapshots whose count lags behind the appended events.
func DecodeEventQueue(data []byte) (*EventQueue, error) {
	header, tail, n, err := splitEventQueue(data)
	if err != nil {
		return nil, err
	}
	return &EventQueue{
		Header:      *header,
		NumElements: n,
		Events:      newestEvents(header, tail, n, n),
	}, nil
}

// DecodeEventQueueSince decodes only the events appended after sequence number
// since. When the queue's sequence number is behind since the snapshots are
// out of order or the counter wrapped; the full queue is returned and resync
// is true.
func DecodeEventQueueSince(data []byte, since uint32) (q *EventQueue, resync bool, err error) {
	header, tail, n, err := splitEventQueue(data)
	if err != nil {
		return nil, false, err
	}
	if header.NextSeqNum < since {
		return &EventQueue{
			Header:      *header,
			NumElements: n,
			Events:      newestEvents(header, tail, n, n),
		}, true, nil
	}
	fresh := header.NextSeqNum - since
	if fresh > n {
		fresh = n
	}
	return &EventQueue{
		Header:      *header,
		NumElements: n,
		Events:      newestEvents(header, tail, n, fresh),
	}, false, nil
}

func splitEventQueue(data []byte) (*QueueHeader, Reader, uint32, error) {
	if err := minLength("event queue", data, QueueHeaderSize+tailPadding); err != nil {
		return nil, Reader{}, 0, err
	}
	header, err := DecodeQueueHeader(data[:QueueHeaderSize])
	if err != nil {
		return nil, Reader{}, 0, err
	}
	if !header.Flags.Has(FlagEventQueue) {
		return nil, Reader{}, 0, ErrUnexpectedFlags
	}
	tail := NewReader(data[QueueHeaderSize : len(data)-tailPadding])
	return header, tail, uint32(tail.Len() / EventSize), nil
}

// newestEvents walks take slots backwards from the newest one. Slot i of the
// result lives at raw index (head + count + n - 1 - i) mod n.
func newestEvents(h *QueueHeader, tail Reader, n, take uint32) []Event {
	if n == 0 || take == 0 {
		return []Event{}
	}
	events := make([]Event, 0, take)
	base := uint64(h.Head) + uint64(h.Count) + uint64(n) - 1
	for i := uint64(0); i < uint64(take); i++ {
		idx := (base - i) % uint64(n)
		events = append(events, decodeEvent(tail.Sub(int(idx)*EventSize, EventSize)))
	}
	return events
}
