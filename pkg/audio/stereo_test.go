package audio

import (
	"bytes"
	"testing"
)

func TestLeftChannelKeepsEvenGroups(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	got := LeftChannel(in)
	want := []byte{0x01, 0x02, 0x05, 0x06}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %x, got %x", want, got)
	}
}

func TestLeftChannelHalvesAlignedInput(t *testing.T) {
	for n := 0; n <= 64; n += StereoFrameSize {
		in := make([]byte, n)
		for i := range in {
			in[i] = byte(i)
		}
		got := LeftChannel(in)
		if len(got) != n/2 {
			t.Fatalf("len %d: expected %d bytes, got %d", n, n/2, len(got))
		}
		for i := 0; i < len(got); i += BytesPerSample {
			src := (i / BytesPerSample) * StereoFrameSize
			if got[i] != in[src] || got[i+1] != in[src+1] {
				t.Fatalf("len %d: sample %d not taken from offset %d", n, i/2, src)
			}
		}
	}
}

func TestLeftChannelIsPure(t *testing.T) {
	in := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	orig := append([]byte(nil), in...)
	first := LeftChannel(in)
	second := LeftChannel(in)
	if !bytes.Equal(first, second) {
		t.Fatalf("expected identical output, got %x and %x", first, second)
	}
	if !bytes.Equal(in, orig) {
		t.Fatalf("input mutated: %x", in)
	}
	first[0] = 0xFF
	if in[0] != 9 {
		t.Fatalf("output aliases input")
	}
}

func TestLeftChannelTrailingBytes(t *testing.T) {
	cases := []struct {
		in   []byte
		want []byte
	}{
		{in: []byte{1}, want: []byte{1}},
		{in: []byte{1, 2}, want: []byte{1, 2}},
		{in: []byte{1, 2, 3}, want: []byte{1, 2}},
		{in: []byte{1, 2, 3, 4, 5}, want: []byte{1, 2, 5}},
		{in: nil, want: []byte{}},
	}
	for _, tc := range cases {
		got := LeftChannel(tc.in)
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("input %x: expected %x, got %x", tc.in, tc.want, got)
		}
	}
}
