package mlswire

import (
	"golang.org/x/crypto/cryptobyte"
)

// maxVarint is the largest length an MLS variable-length vector can carry.
const maxVarint = 1<<30 - 1

func readU8(s *cryptobyte.String, field string) (uint8, error) {
	var v uint8
	if !s.ReadUint8(&v) {
		return 0, fail(CodeTruncated, field)
	}
	return v, nil
}

func readU16(s *cryptobyte.String, field string) (uint16, error) {
	var v uint16
	if !s.ReadUint16(&v) {
		return 0, fail(CodeTruncated, field)
	}
	return v, nil
}

func readU32(s *cryptobyte.String, field string) (uint32, error) {
	var v uint32
	if !s.ReadUint32(&v) {
		return 0, fail(CodeTruncated, field)
	}
	return v, nil
}

func readU64(s *cryptobyte.String, field string) (uint64, error) {
	var v uint64
	if !s.ReadUint64(&v) {
		return 0, fail(CodeTruncated, field)
	}
	return v, nil
}

// readVarint decodes the 1, 2 or 4 byte length prefix of RFC 9420 section
// 2.1.2 and rejects non-minimal encodings.
func readVarint(s *cryptobyte.String, field string) (int, error) {
	first, err := readU8(s, field)
	if err != nil {
		return 0, err
	}
	v := uint32(first & 0x3f)
	switch first >> 6 {
	case 0:
		return int(v), nil
	case 1:
		next, err := readU8(s, field)
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint32(next)
		if v < 1<<6 {
			return 0, fail(CodeInvalidVarint, field)
		}
	case 2:
		var rest []byte
		if !s.ReadBytes(&rest, 3) {
			return 0, fail(CodeTruncated, field)
		}
		v = v<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
		if v < 1<<14 {
			return 0, fail(CodeInvalidVarint, field)
		}
	default:
		return 0, fail(CodeInvalidVarint, field)
	}
	return int(v), nil
}

func readOpaque(s *cryptobyte.String, field string) ([]byte, error) {
	n, err := readVarint(s, field)
	if err != nil {
		return nil, err
	}
	var out []byte
	if !s.ReadBytes(&out, n) {
		return nil, fail(CodeTruncated, field)
	}
	return out, nil
}

func readVector(s *cryptobyte.String, field string) (cryptobyte.String, error) {
	raw, err := readOpaque(s, field)
	if err != nil {
		return nil, err
	}
	return cryptobyte.String(raw), nil
}

func readU16List(s *cryptobyte.String, field string) ([]uint16, error) {
	vec, err := readVector(s, field)
	if err != nil {
		return nil, err
	}
	if len(vec)%2 != 0 {
		return nil, fail(CodeTruncated, field)
	}
	out := make([]uint16, 0, len(vec)/2)
	for !vec.Empty() {
		v, _ := readU16(&vec, field)
		out = append(out, v)
	}
	return out, nil
}

func addVarint(b *cryptobyte.Builder, n int) {
	switch {
	case n < 1<<6:
		b.AddUint8(uint8(n))
	case n < 1<<14:
		b.AddUint16(uint16(n) | 0x4000)
	case n <= maxVarint:
		b.AddUint32(uint32(n) | 0x80000000)
	default:
		b.SetError(fail(CodeInvalidVarint, "length"))
	}
}

func addOpaque(b *cryptobyte.Builder, v []byte) {
	addVarint(b, len(v))
	b.AddBytes(v)
}

func addVector(b *cryptobyte.Builder, f func(*cryptobyte.Builder)) {
	child := cryptobyte.NewBuilder(nil)
	f(child)
	raw, err := child.Bytes()
	if err != nil {
		b.SetError(err)
		return
	}
	addOpaque(b, raw)
}

func addU16List(b *cryptobyte.Builder, values []uint16) {
	addVector(b, func(b *cryptobyte.Builder) {
		for _, v := range values {
			b.AddUint16(v)
		}
	})
}
