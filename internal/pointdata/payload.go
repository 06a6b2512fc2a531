package pointdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Payload wire layout (little endian), as emitted by the annotation
// preprocessing pipeline:
//
//	magic   [4]byte  "SVP1"
//	flags   uint8    bit0 = fill modes present, bit1 = ids present
//	count   uint32
//	positions       count*2 float32
//	paletteIndices  count   uint16
//	fillModes       count   uint8   (if flagged)
//	ids             count   uint64  (if flagged)
//
// The whole payload may additionally be zstd-compressed.
const (
	payloadMagic = "SVP1"

	flagFillModes = 1 << 0
	flagIDs       = 1 << 1
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// ErrBadPayload indicates the payload header could not be read at all.
// Short bodies after a valid header are not errors; they truncate.
var ErrBadPayload = errors.New("pointdata: unreadable payload")

// DecodePayload parses a raw (optionally zstd-compressed) point payload.
// Array lengths are clamped to whatever the buffer actually carries; the
// resulting PointData's SafeCount reconciles any truncation.
func DecodePayload(raw []byte) (*PointData, error) {
	if len(raw) >= 4 && raw[0] == zstdMagic[0] && raw[1] == zstdMagic[1] && raw[2] == zstdMagic[2] && raw[3] == zstdMagic[3] {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("pointdata: zstd init: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("pointdata: zstd decode: %w", err)
		}
		raw = out
	}

	if len(raw) < 9 || string(raw[:4]) != payloadMagic {
		return nil, ErrBadPayload
	}
	flags := raw[4]
	count := int(binary.LittleEndian.Uint32(raw[5:9]))
	body := raw[9:]

	pd := &PointData{Count: count}

	n := count * 2
	if avail := len(body) / 4; avail < n {
		n = avail
	}
	pd.Positions = make([]float32, n)
	for i := 0; i < n; i++ {
		pd.Positions[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	body = body[4*n:]

	n = count
	if avail := len(body) / 2; avail < n {
		n = avail
	}
	pd.PaletteIndices = make([]uint16, n)
	for i := 0; i < n; i++ {
		pd.PaletteIndices[i] = binary.LittleEndian.Uint16(body[2*i:])
	}
	body = body[2*n:]

	if flags&flagFillModes != 0 {
		n = count
		if len(body) < n {
			n = len(body)
		}
		pd.FillModes = append([]uint8(nil), body[:n]...)
		body = body[n:]
	}

	if flags&flagIDs != 0 {
		n = count
		if avail := len(body) / 8; avail < n {
			n = avail
		}
		pd.IDs = make([]uint64, n)
		for i := 0; i < n; i++ {
			pd.IDs[i] = binary.LittleEndian.Uint64(body[8*i:])
		}
	}

	return pd, nil
}

// EncodePayload builds a payload buffer from point data. Used by the
// preprocessing tools and by tests; the viewer only decodes.
func EncodePayload(pd *PointData) []byte {
	safe := pd.SafeCount()
	var flags uint8
	if pd.FillModes != nil {
		flags |= flagFillModes
	}
	if pd.IDs != nil {
		flags |= flagIDs
	}
	out := make([]byte, 0, 9+safe*(8+2+1+8))
	out = append(out, payloadMagic...)
	out = append(out, flags)
	out = binary.LittleEndian.AppendUint32(out, uint32(safe))
	for i := 0; i < safe*2; i++ {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(pd.Positions[i]))
	}
	for i := 0; i < safe; i++ {
		out = binary.LittleEndian.AppendUint16(out, pd.PaletteIndices[i])
	}
	if flags&flagFillModes != 0 {
		out = append(out, pd.FillModes[:safe]...)
	}
	if flags&flagIDs != 0 {
		for i := 0; i < safe; i++ {
			out = binary.LittleEndian.AppendUint64(out, pd.IDs[i])
		}
	}
	return out
}
