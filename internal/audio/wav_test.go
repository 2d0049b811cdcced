package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestMulawWAVRoundTrip(t *testing.T) {
	samples := []byte{0xFF, 0x7F, 0x00, 0x80, 0x13}
	wav, err := EncodeWAVMulaw(samples)
	if err != nil {
		t.Fatalf("EncodeWAVMulaw() error = %v", err)
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); int(got) != len(wav)-8 {
		t.Fatalf("RIFF size = %d, want %d", got, len(wav)-8)
	}
	got, err := DecodeWAVMulaw(wav)
	if err != nil {
		t.Fatalf("DecodeWAVMulaw() error = %v", err)
	}
	if !bytes.Equal(got, samples) {
		t.Fatalf("samples = %v, want %v", got, samples)
	}
}

func TestDecodeWAVMulawRejectsPCM(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(38))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint32(16000))
	_ = binary.Write(&b, binary.LittleEndian, uint32(32000))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(2))
	b.Write([]byte{0x00, 0x01})

	if _, err := DecodeWAVMulaw(b.Bytes()); err == nil {
		t.Fatalf("DecodeWAVMulaw() error = nil, want unsupported format")
	}
}

func TestFramesPadsWithSilence(t *testing.T) {
	frames := Frames(bytes.Repeat([]byte{0x10}, 170), MulawFrameBytes)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if len(frames[1]) != MulawFrameBytes || frames[1][9] != 0x10 || frames[1][10] != MulawSilence {
		t.Fatalf("last frame not padded with silence")
	}
	if !bytes.Equal(Silence(3), []byte{0xFF, 0xFF, 0xFF}) {
		t.Fatalf("Silence(3) = %v", Silence(3))
	}
}
