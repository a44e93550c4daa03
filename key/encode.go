package key

import (
	"encoding/binary"
	"errors"
	"math"
	"math/big"
)

// Encoded layout, one segment per part:
//
//	[tag:1B][value bytes...]
//
// Tags ascend in key order: bytes < string < number < bigint < false < true.
//
// Bytes and strings escape 0x00 as 0x00 0x01 and terminate with 0x00 0x00, so
// a shorter value sorts before any value it prefixes. Numbers are big-endian
// float64 with the sign bit flipped (all bits flipped for negatives). Bigints
// carry a sign marker, a length byte and the magnitude, inverted for negatives.
const (
	tagBytes  byte = 0x01
	tagString byte = 0x02
	tagNumber byte = 0x03
	tagBigInt byte = 0x04
	tagFalse  byte = 0x05
	tagTrue   byte = 0x06

	bigNegative byte = 0x7f
	bigZero     byte = 0x80
	bigPositive byte = 0x81
)

var (
	// ErrKeyTooLarge is returned when a bigint part exceeds 255 magnitude bytes.
	ErrKeyTooLarge = errors.New("kvlens: key part too large to encode")

	// ErrInvalidEncoding is returned when decoding bytes not produced by Encode.
	ErrInvalidEncoding = errors.New("kvlens: invalid key encoding")
)

// Encode returns the order-preserving binary form of k. Comparing two
// encodings with bytes.Compare gives the same result as comparing the keys.
func Encode(k Key) ([]byte, error) {
	buf := make([]byte, 0, 16*len(k))
	for _, p := range k {
		var err error
		buf, err = appendPart(buf, p)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendPart(buf []byte, p Part) ([]byte, error) {
	switch p.kind {
	case KindBytes:
		buf = append(buf, tagBytes)
		return appendEscaped(buf, p.raw), nil
	case KindString:
		buf = append(buf, tagString)
		return appendEscaped(buf, []byte(p.str)), nil
	case KindNumber:
		buf = append(buf, tagNumber)
		var b [8]byte
		encodeFloat64(b[:], p.num)
		return append(buf, b[:]...), nil
	case KindBigInt:
		buf = append(buf, tagBigInt)
		n := p.Big()
		switch n.Sign() {
		case 0:
			return append(buf, bigZero), nil
		case 1:
			mag := n.Bytes()
			if len(mag) > 255 {
				return nil, ErrKeyTooLarge
			}
			buf = append(buf, bigPositive, byte(len(mag)))
			return append(buf, mag...), nil
		default:
			mag := new(big.Int).Abs(n).Bytes()
			if len(mag) > 255 {
				return nil, ErrKeyTooLarge
			}
			buf = append(buf, bigNegative, ^byte(len(mag)))
			for _, c := range mag {
				buf = append(buf, ^c)
			}
			return buf, nil
		}
	case KindBool:
		if p.flag {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	default:
		return nil, ErrInvalidEncoding
	}
}

func appendEscaped(buf, v []byte) []byte {
	for _, c := range v {
		if c == 0x00 {
			buf = append(buf, 0x00, 0x01)
		} else {
			buf = append(buf, c)
		}
	}
	return append(buf, 0x00, 0x00)
}

// encodeFloat64 writes v in a sortable form: -Inf < negatives < -0 < +0 < positives < +Inf.
func encodeFloat64(buf []byte, v float64) {
	bits := math.Float64bits(v)
	if math.Signbit(v) {
		bits = ^bits
	} else {
		bits ^= 1 << 63
	}
	binary.BigEndian.PutUint64(buf, bits)
}

func decodeFloat64(buf []byte) float64 {
	bits := binary.BigEndian.Uint64(buf)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// Decode reverses Encode.
func Decode(b []byte) (Key, error) {
	k := Key{}
	for i := 0; i < len(b); {
		tag := b[i]
		i++
		switch tag {
		case tagBytes, tagString:
			v, n, err := readEscaped(b[i:])
			if err != nil {
				return nil, err
			}
			i += n
			if tag == tagBytes {
				k = append(k, Bytes(v))
			} else {
				k = append(k, String(string(v)))
			}
		case tagNumber:
			if len(b)-i < 8 {
				return nil, ErrInvalidEncoding
			}
			k = append(k, Number(decodeFloat64(b[i:i+8])))
			i += 8
		case tagBigInt:
			if i >= len(b) {
				return nil, ErrInvalidEncoding
			}
			sign := b[i]
			i++
			if sign == bigZero {
				k = append(k, BigInt(new(big.Int)))
				continue
			}
			if i >= len(b) || (sign != bigPositive && sign != bigNegative) {
				return nil, ErrInvalidEncoding
			}
			size := int(b[i])
			if sign == bigNegative {
				size = int(^b[i])
			}
			i++
			if len(b)-i < size {
				return nil, ErrInvalidEncoding
			}
			mag := append([]byte{}, b[i:i+size]...)
			i += size
			if sign == bigNegative {
				for j := range mag {
					mag[j] = ^mag[j]
				}
			}
			n := new(big.Int).SetBytes(mag)
			if sign == bigNegative {
				n.Neg(n)
			}
			k = append(k, BigInt(n))
		case tagFalse:
			k = append(k, Bool(false))
		case tagTrue:
			k = append(k, Bool(true))
		default:
			return nil, ErrInvalidEncoding
		}
	}
	return k, nil
}

// readEscaped reads an escaped, terminated value and returns it along with
// the number of input bytes consumed.
func readEscaped(b []byte) ([]byte, int, error) {
	out := []byte{}
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, 0, ErrInvalidEncoding
		}
		switch b[i+1] {
		case 0x00:
			return out, i + 2, nil
		case 0x01:
			out = append(out, 0x00)
			i++
		default:
			return nil, 0, ErrInvalidEncoding
		}
	}
	return nil, 0, ErrInvalidEncoding
}
