// Package codec implements the byte/word reordering, integer/float folding
// and scaling rules shared by every Modbus transport. The rules here are
// not arbitrary: they reproduce byte-level behavior observed in the field,
// and the exact test vectors in codec_test.go are load-bearing.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"modbus-mqtt-gateway/internal/model"
)

// swapWords exchanges the first two words of a two-word slice. A no-op on
// shorter slices.
func swapWords(words []uint16) []uint16 {
	if len(words) < 2 {
		return words
	}
	out := make([]uint16, len(words))
	copy(out, words)
	out[0], out[1] = out[1], out[0]
	return out
}

// swapBytes rotates a word's two bytes (byte swap within the word).
func swapBytes(w uint16) uint16 {
	return (w << 8) | (w >> 8)
}

func reverseWords(words []uint16) []uint16 {
	out := make([]uint16, len(words))
	for i, w := range words {
		out[len(words)-1-i] = w
	}
	return out
}

// reorder applies the transport-agnostic swap policy to a decoded or
// about-to-be-encoded word sequence.
func reorder(words []uint16, swap model.Endianness) []uint16 {
	switch swap {
	case model.LittleEndian:
		swapped := make([]uint16, len(words))
		for i, w := range words {
			swapped[i] = swapBytes(w)
		}
		return reverseWords(swapped)
	case model.BigEndian:
		return words
	case model.LittleEndianSwap:
		swapped := make([]uint16, len(words))
		for i, w := range words {
			swapped[i] = swapBytes(w)
		}
		return swapWords(reverseWords(swapped))
	case model.BigEndianSwap:
		return swapWords(words)
	default:
		return words
	}
}

// Decode turns a raw register read into a scaled TagValue. words must have
// length 1 or 2; swap/dtype/multiplier come from the tag definition.
func Decode(words []uint16, swap model.Endianness, dtype model.DataType, multiplier float32) (model.TagValue, error) {
	if len(words) == 0 || len(words) > 2 {
		return model.TagValue{}, fmt.Errorf("codec: invalid word count %d", len(words))
	}

	ordered := reorder(words, swap)

	var readValue float32
	switch dtype {
	case model.Integer:
		var acc int32
		for _, w := range ordered {
			acc = (acc << 16) | int32(w)
		}
		readValue = float32(acc)
	case model.Float:
		var acc uint32
		for _, w := range ordered {
			acc = (acc << 16) | uint32(w)
		}
		f := math.Float32frombits(acc)
		// Precision clamp: format to two decimals, then reparse. This
		// mirrors the source system's behavior and the test vectors
		// depend on it; do not replace with the raw bit-pattern float.
		clamped, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'f', 2, 32), 32)
		if err != nil {
			return model.TagValue{}, fmt.Errorf("codec: reparsing clamped float: %w", err)
		}
		readValue = float32(clamped)
	default:
		return model.TagValue{}, fmt.Errorf("codec: unknown data type %v", dtype)
	}

	scaled := readValue * multiplier
	return coerce(scaled), nil
}

// coerce picks I32 when the scaled value is exactly integral, else F32.
func coerce(scaled float32) model.TagValue {
	if scaled == float32(math.Round(float64(scaled))) {
		return model.I32(int32(scaled))
	}
	return model.F32(scaled)
}

// Encode turns a TagValue into the words to send in a write request, after
// applying the tag's swap policy. For Coil writes use CoilFromWords on the
// result.
func Encode(value model.TagValue, swap model.Endianness) []uint16 {
	var raw [4]byte
	if value.IsFloat() {
		binary.BigEndian.PutUint32(raw[:], math.Float32bits(value.Float32()))
	} else {
		binary.BigEndian.PutUint32(raw[:], uint32(value.Int32()))
	}

	words := []uint16{
		uint16(raw[0])<<8 | uint16(raw[1]),
		uint16(raw[2])<<8 | uint16(raw[3]),
	}
	return reorder(words, swap)
}

// CoilFromWords implements the legacy "any nonzero byte means on" write
// rule used when encoding a value for a Coil write.
func CoilFromWords(words []uint16) bool {
	for _, w := range words {
		if w != 0 {
			return true
		}
	}
	return false
}

// BoolsToWords maps a coil/discrete read's boolean vector into the uint16
// vector the decode pipeline expects (true->1, false->0).
func BoolsToWords(bits []bool) []uint16 {
	words := make([]uint16, len(bits))
	for i, b := range bits {
		if b {
			words[i] = 1
		}
	}
	return words
}
