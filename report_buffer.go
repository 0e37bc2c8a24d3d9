package iec61850

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var errReportTooLarge = errors.New("report exceeds buffer size")

// reportBuffer holds the reports of a buffered RCB. Its size is measured on
// the CBOR encoding of the stored reports; when a new report does not fit,
// the oldest entries are dropped and the new report carries BufOvfl.
type reportBuffer struct {
	maxSize int
	size    int
	entries []bufferEntry
	sent    int // entries[:sent] were handed to the client
	lastID  uint64
}

type bufferEntry struct {
	id     uint64
	size   int
	report *Report
}

func newReportBuffer(maxSize int) *reportBuffer {
	return &reportBuffer{maxSize: maxSize}
}

func entryIDBytes(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// add assigns the next entry ID to r and stores it. A report larger than the
// whole buffer is rejected and the buffer is left untouched.
func (b *reportBuffer) add(r *Report) error {
	b.lastID++
	r.EntryID = entryIDBytes(b.lastID)
	encoded, err := cbor.Marshal(r)
	if err != nil {
		b.lastID--
		r.EntryID = nil
		return err
	}
	n := len(encoded)
	if n > b.maxSize {
		b.lastID--
		r.EntryID = nil
		return fmt.Errorf("%w: %d > %d bytes", errReportTooLarge, n, b.maxSize)
	}
	for len(b.entries) > 0 && b.size+n > b.maxSize {
		b.size -= b.entries[0].size
		b.entries = b.entries[1:]
		if b.sent > 0 {
			b.sent--
		}
		r.BufOvfl = true
	}
	b.entries = append(b.entries, bufferEntry{id: b.lastID, size: n, report: r})
	b.size += n
	return nil
}

// unsent returns the reports not yet handed to a client and marks them sent.
func (b *reportBuffer) unsent() []*Report {
	if b.sent >= len(b.entries) {
		return nil
	}
	out := make([]*Report, 0, len(b.entries)-b.sent)
	for _, e := range b.entries[b.sent:] {
		out = append(out, e.report)
	}
	b.sent = len(b.entries)
	return out
}

// markUnsent rewinds the send position so the entry with the given ID and
// every later one is delivered again.
func (b *reportBuffer) markUnsent(id []byte) {
	if len(id) != 8 {
		return
	}
	want := binary.BigEndian.Uint64(id)
	for i, e := range b.entries {
		if e.id == want {
			if i < b.sent {
				b.sent = i
			}
			return
		}
	}
}

// resync positions the buffer after the entry with the given ID. An all-zero
// ID rewinds to the oldest entry. It returns false for unknown IDs.
func (b *reportBuffer) resync(id []byte) bool {
	if len(id) != 8 {
		return false
	}
	want := binary.BigEndian.Uint64(id)
	if want == 0 {
		b.sent = 0
		return true
	}
	for i, e := range b.entries {
		if e.id == want {
			b.sent = i + 1
			return true
		}
	}
	return false
}

func (b *reportBuffer) purge() {
	b.entries = nil
	b.size = 0
	b.sent = 0
}

func (b *reportBuffer) count() int {
	return len(b.entries)
}
