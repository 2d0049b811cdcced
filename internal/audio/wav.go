package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Telephony media is G.711 mu-law, 8 kHz mono, sent in 20 ms frames.
const (
	MulawSampleRate = 8000
	MulawFrameBytes = 160
	MulawSilence    = 0xFF

	formatMulaw = 7
)

// EncodeWAVMulaw wraps raw mu-law bytes in a WAV container.
func EncodeWAVMulaw(samples []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVMulawTo(&buf, samples); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVMulawFile writes raw mu-law bytes as a WAV file.
func WriteWAVMulawFile(path string, samples []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVMulawTo(f, samples)
}

// WriteWAVMulawTo writes raw mu-law bytes to out as a WAV stream.
func WriteWAVMulawTo(out io.Writer, samples []byte) error {
	dataSize := uint32(len(samples))
	pad := dataSize % 2

	w := bufio.NewWriter(out)
	fields := []any{
		[]byte("RIFF"),
		uint32(4 + (8 + 18) + (8 + 4) + 8 + dataSize + pad),
		[]byte("WAVE"),

		// Non-PCM formats carry cbSize and a fact chunk.
		[]byte("fmt "),
		uint32(18),
		uint16(formatMulaw),
		uint16(1),
		uint32(MulawSampleRate),
		uint32(MulawSampleRate), // byte rate
		uint16(1),               // block align
		uint16(8),               // bits per sample
		uint16(0),               // cbSize

		[]byte("fact"),
		uint32(4),
		dataSize,

		[]byte("data"),
		dataSize,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if _, err := w.Write(samples); err != nil {
		return err
	}
	if pad == 1 {
		if err := w.WriteByte(0); err != nil {
			return err
		}
	}
	return w.Flush()
}

// DecodeWAVMulaw returns the sample bytes of an 8 kHz mono mu-law WAV.
func DecodeWAVMulaw(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  uint32
		bitsPerSamp uint16
		samples     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			samples = append(samples[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	switch {
	case !haveFmt:
		return nil, fmt.Errorf("wav fmt chunk missing")
	case audioFormat != formatMulaw:
		return nil, fmt.Errorf("unsupported wav audio format %d, want mu-law", audioFormat)
	case channels != 1:
		return nil, fmt.Errorf("unsupported wav channels %d, want mono", channels)
	case sampleRate != MulawSampleRate:
		return nil, fmt.Errorf("unsupported wav sample rate %d, want %d", sampleRate, MulawSampleRate)
	case bitsPerSamp != 8:
		return nil, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	case len(samples) == 0:
		return nil, fmt.Errorf("wav data chunk missing")
	}
	return samples, nil
}

// Frames splits samples into frameBytes-sized frames, padding the last one
// with silence.
func Frames(samples []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 {
		frameBytes = MulawFrameBytes
	}
	out := make([][]byte, 0, (len(samples)+frameBytes-1)/frameBytes)
	for off := 0; off < len(samples); off += frameBytes {
		frame := make([]byte, frameBytes)
		n := copy(frame, samples[off:])
		for i := n; i < frameBytes; i++ {
			frame[i] = MulawSilence
		}
		out = append(out, frame)
	}
	return out
}

// Silence returns one frame of mu-law silence.
func Silence(frameBytes int) []byte {
	return bytes.Repeat([]byte{MulawSilence}, frameBytes)
}
