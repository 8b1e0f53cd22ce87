package bitstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/nvail/framebridge/internal/media"
)

func lengthPrefixed(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(u)))
		out = append(out, n[:]...)
		out = append(out, u...)
	}
	return out
}

func fill(b byte, n int) []byte {
	u := make([]byte, n)
	for i := range u {
		u[i] = b
	}
	return u
}

// splitAnnexB breaks a converted buffer back into units for assertion.
func splitAnnexB(t *testing.T, data []byte) [][]byte {
	t.Helper()
	sc := []byte{0, 0, 0, 1}
	if len(data) == 0 {
		return nil
	}
	if !bytes.HasPrefix(data, sc) {
		t.Fatalf("output does not begin with a start code: %x", data[:min(8, len(data))])
	}
	var units [][]byte
	for _, chunk := range bytes.Split(data, sc)[1:] {
		units = append(units, chunk)
	}
	return units
}

func TestToAnnexBKeyframe(t *testing.T) {
	t.Parallel()
	vps := fill(0xA0, 10)
	sps := fill(0xB0, 8)
	pps := fill(0xC0, 4)
	nal := fill(0xD0, 100)

	sample := &media.EncodedSample{
		Data:          lengthPrefixed(nal),
		ParameterSets: [][]byte{vps, sps, pps},
		IsKeyframe:    true,
	}

	out, err := ToAnnexB(sample)
	if err != nil {
		t.Fatalf("ToAnnexB: %v", err)
	}

	units := splitAnnexB(t, out)
	want := [][]byte{vps, sps, pps, nal}
	if len(units) != len(want) {
		t.Fatalf("got %d units, want %d", len(units), len(want))
	}
	for i := range want {
		if !bytes.Equal(units[i], want[i]) {
			t.Errorf("unit %d = %d bytes %x..., want %d bytes", i, len(units[i]), units[i][:1], len(want[i]))
		}
	}
}

func TestToAnnexBDeltaFrame(t *testing.T) {
	t.Parallel()
	a := fill(0x11, 50)
	b := fill(0x22, 30)

	sample := &media.EncodedSample{
		Data:          lengthPrefixed(a, b),
		ParameterSets: [][]byte{fill(0xA0, 10)}, // present but must not be emitted
		IsKeyframe:    false,
	}

	out, err := ToAnnexB(sample)
	if err != nil {
		t.Fatalf("ToAnnexB: %v", err)
	}

	units := splitAnnexB(t, out)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2 (no parameter sets on delta frames)", len(units))
	}
	if !bytes.Equal(units[0], a) || !bytes.Equal(units[1], b) {
		t.Errorf("units = %d,%d bytes, want 50,30", len(units[0]), len(units[1]))
	}
}

func TestToAnnexBTruncatedLength(t *testing.T) {
	t.Parallel()
	good := fill(0x11, 16)
	data := lengthPrefixed(good)
	// Claim 1000 bytes with only 5 remaining.
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], 1000)
	data = append(data, n[:]...)
	data = append(data, fill(0x22, 5)...)

	sample := &media.EncodedSample{Data: data}
	out, err := ToAnnexB(sample)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}

	// Conversion stops at the bad prefix; units before it survive.
	units := splitAnnexB(t, out)
	if len(units) != 1 || !bytes.Equal(units[0], good) {
		t.Errorf("prefix before truncation not preserved: %d units", len(units))
	}
}

func TestToAnnexBIgnoresShortTail(t *testing.T) {
	t.Parallel()
	unit := fill(0x33, 12)
	data := append(lengthPrefixed(unit), 0x00, 0x00) // 2 stray bytes, no full prefix

	out, err := ToAnnexB(&media.EncodedSample{Data: data})
	if err != nil {
		t.Fatalf("ToAnnexB: %v", err)
	}
	units := splitAnnexB(t, out)
	if len(units) != 1 || !bytes.Equal(units[0], unit) {
		t.Errorf("got %d units", len(units))
	}
}

func TestToAnnexBEmpty(t *testing.T) {
	t.Parallel()
	out, err := ToAnnexB(&media.EncodedSample{})
	if err != nil {
		t.Fatalf("ToAnnexB: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("empty sample produced %d bytes", len(out))
	}
}
