package audio

import (
	"bytes"
	"testing"
)

func TestPCMAlignerStripsHeaderAndCarriesOddByte(t *testing.T) {
	aligner := NewPCMAligner(GetDefaultEncodingInfo())

	header := append([]byte("RIFF"), make([]byte, 40)...)
	if out := aligner.Align(header); out != nil {
		t.Fatalf("expected header-only chunk to produce nothing, got %v", out)
	}

	out := aligner.Align([]byte{0x01, 0x02, 0x03})
	if !bytes.Equal(out, []byte{0x01, 0x02}) {
		t.Fatalf("expected [1 2] to be written, got %v", out)
	}
	if carry := aligner.Carry(); !bytes.Equal(carry, []byte{0x03}) {
		t.Fatalf("expected carry [3], got %v", carry)
	}

	if dropped := aligner.Reset(); dropped != 1 {
		t.Fatalf("expected 1 dropped byte at end of response, got %d", dropped)
	}
}

func TestPCMAlignerStripsHeaderOnlyOnce(t *testing.T) {
	aligner := NewPCMAligner(GetDefaultEncodingInfo())

	first := append(append([]byte("RIFF"), make([]byte, 40)...), 0x0A, 0x0B)
	out := aligner.Align(first)
	if !bytes.Equal(out, []byte{0x0A, 0x0B}) {
		t.Fatalf("expected header to be stripped, got %v", out)
	}

	second := []byte("RIFFabcd")
	out = aligner.Align(second)
	if !bytes.Equal(out, second) {
		t.Fatalf("expected later RIFF-looking chunk to pass through, got %q", out)
	}
}

func TestPCMAlignerSkipsEmptyChunksBeforeHeaderCheck(t *testing.T) {
	aligner := NewPCMAligner(GetDefaultEncodingInfo())

	if out := aligner.Align(nil); out != nil {
		t.Fatalf("expected nothing for empty chunk, got %v", out)
	}
	if out := aligner.Align([]byte{}); out != nil {
		t.Fatalf("expected nothing for empty chunk, got %v", out)
	}

	chunk := append(append([]byte("RIFF"), make([]byte, 40)...), 0x01, 0x02)
	if out := aligner.Align(chunk); !bytes.Equal(out, []byte{0x01, 0x02}) {
		t.Fatalf("expected header to be stripped after empty chunks, got %v", out)
	}
}

func TestPCMAlignerNeverEmitsOddBuffersAndConservesBytes(t *testing.T) {
	sizes := [][]int{
		{1, 1, 1, 1, 1},
		{3, 5, 7, 2},
		{1024, 1, 1023},
		{2, 2, 2},
		{9},
	}

	for _, chunkSizes := range sizes {
		aligner := NewPCMAligner(GetDefaultEncodingInfo())
		total := 0
		written := 0
		next := byte(0)
		var all, emitted []byte
		for _, size := range chunkSizes {
			chunk := make([]byte, size)
			for i := range chunk {
				chunk[i] = next
				next++
			}
			total += size
			all = append(all, chunk...)

			out := aligner.Align(chunk)
			if len(out)%2 != 0 {
				t.Fatalf("expected even-length buffer for sizes %v, got %d bytes", chunkSizes, len(out))
			}
			written += len(out)
			emitted = append(emitted, out...)
		}

		carried := len(aligner.Carry())
		if written+carried != total {
			t.Fatalf("expected %d bytes to be conserved for sizes %v, got %d written + %d carried", total, chunkSizes, written, carried)
		}
		if carried > 1 {
			t.Fatalf("expected at most one carried byte, got %d", carried)
		}
		if !bytes.Equal(emitted, all[:written]) {
			t.Fatalf("expected written bytes to preserve order for sizes %v", chunkSizes)
		}
	}
}

func TestPCMAlignerSingleByteFormat(t *testing.T) {
	aligner := NewPCMAligner(EncodingInfo{SampleRate: 8000, Format: EncodingMulaw})

	out := aligner.Align([]byte{0x01, 0x02, 0x03})
	if !bytes.Equal(out, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("expected all bytes for single byte samples, got %v", out)
	}
	if carry := aligner.Carry(); len(carry) != 0 {
		t.Fatalf("expected no carry, got %v", carry)
	}
}
