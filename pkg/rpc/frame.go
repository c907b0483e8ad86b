package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum allowed frame payload. Must exceed the
// largest piece size plus header overhead.
const MaxFrameSize = (4 << 20) + (1 << 18) // 4MB piece + 256KB headroom

// lastFragmentBit marks the final fragment of a record.
const lastFragmentBit = 0x80000000

// WriteFrame writes payload as a single record-marked fragment.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload))|lastFragmentBit)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one record, reassembling fragments until the last-fragment
// bit is seen. The total record size is capped at MaxFrameSize to prevent
// memory exhaustion from corrupt or hostile headers.
//
// EOF before the first header byte is returned as io.EOF so callers can
// detect normal peer disconnect.
func ReadFrame(r io.Reader) ([]byte, error) {
	var record []byte

	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if len(record) == 0 && err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read frame header: %w", err)
		}

		raw := binary.BigEndian.Uint32(header[:])
		last := raw&lastFragmentBit != 0
		length := raw &^ uint32(lastFragmentBit)

		if uint64(len(record))+uint64(length) > MaxFrameSize {
			return nil, fmt.Errorf("frame too large: %d bytes", uint64(len(record))+uint64(length))
		}

		fragment := make([]byte, length)
		if _, err := io.ReadFull(r, fragment); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
		record = append(record, fragment...)

		if last {
			return record, nil
		}
	}
}
