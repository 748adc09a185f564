package codec

import (
	"testing"

	"modbus-mqtt-gateway/internal/model"
)

func TestDecodeBigEndianFloat(t *testing.T) {
	got, err := Decode([]uint16{0x0000, 0x00E8}, model.BigEndian, model.Integer, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsFloat() || got.Float32() != 23.2 {
		t.Fatalf("got %v, want F32(23.2)", got)
	}
}

func TestDecodeBigEndianInteger(t *testing.T) {
	got, err := Decode([]uint16{0x0000, 0x00E8}, model.BigEndian, model.Integer, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsFloat() || got.Int32() != 232 {
		t.Fatalf("got %v, want I32(232)", got)
	}
}

func TestDecodeBigEndianSwap(t *testing.T) {
	got, err := Decode([]uint16{0x0000, 0x00E8}, model.BigEndianSwap, model.Integer, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsFloat() || got.Int32() != 15_204_352 {
		t.Fatalf("got %v, want I32(15204352)", got)
	}
}

func TestDecodeLittleEndian(t *testing.T) {
	got, err := Decode([]uint16{0x0000, 0x00E8}, model.LittleEndian, model.Integer, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsFloat() || got.Int32() != -402_653_184 {
		t.Fatalf("got %v, want I32(-402653184)", got)
	}
}

func TestDecodeLittleEndianSwap(t *testing.T) {
	got, err := Decode([]uint16{0x0000, 0x00E8}, model.LittleEndianSwap, model.Integer, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsFloat() || got.Int32() != 59_392 {
		t.Fatalf("got %v, want I32(59392)", got)
	}
}

func TestDecodeRejectsOversizeWordCount(t *testing.T) {
	if _, err := Decode([]uint16{1, 2, 3}, model.BigEndian, model.Integer, 1.0); err == nil {
		t.Fatal("expected error for length > 2")
	}
}

func TestBigEndianSwapNoOpOnSingleWord(t *testing.T) {
	got, err := Decode([]uint16{0x00E8}, model.BigEndianSwap, model.Integer, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsFloat() || got.Int32() != 232 {
		t.Fatalf("got %v, want I32(232) (swap is a no-op on a single word)", got)
	}
}

func TestBoolsToWords(t *testing.T) {
	cases := []struct {
		in   []bool
		want []uint16
	}{
		{[]bool{true, true, false, false}, []uint16{1, 1, 0, 0}},
		{[]bool{true, false, false, true}, []uint16{1, 0, 0, 1}},
	}
	for _, c := range cases {
		got := BoolsToWords(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("got %v, want %v", got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		}
	}
}

func TestEncodeDecodeRoundTripsUnderSwap(t *testing.T) {
	swaps := []model.Endianness{model.BigEndian, model.LittleEndian, model.BigEndianSwap, model.LittleEndianSwap}
	for _, swap := range swaps {
		words := Encode(model.I32(42), swap)
		got, err := Decode(words, swap, model.Integer, 1.0)
		if err != nil {
			t.Fatalf("swap %v: unexpected error: %v", swap, err)
		}
		if got.IsFloat() || got.Int32() != 42 {
			t.Fatalf("swap %v: round trip got %v, want I32(42)", swap, got)
		}
	}
}

func TestCoilFromWordsNonzeroMeansOn(t *testing.T) {
	if !CoilFromWords([]uint16{0, 1}) {
		t.Fatal("expected nonzero sum to be on")
	}
	if CoilFromWords([]uint16{0, 0}) {
		t.Fatal("expected zero sum to be off")
	}
}
