package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

var ErrNotWAV = errors.New("not a PCM16 mono wav")

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM16 mono.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAV wraps PCM16 mono samples in a WAV container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = CueSampleRate
	}
	dataSize := uint32(len(samples) * 2)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     wavHeaderSize - 8 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + int(dataSize))
	_ = binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(PCM16ToBytes(samples))
	return buf.Bytes()
}

// DecodeWAV reads back a file written by EncodeWAV.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, ErrNotWAV
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, 0, err
	}
	if string(h.RIFF[:]) != "RIFF" || string(h.WAVE[:]) != "WAVE" || h.AudioFormat != 1 ||
		h.Channels != 1 || h.BitsPerSample != 16 || int(h.DataSize) > len(data)-wavHeaderSize {
		return nil, 0, ErrNotWAV
	}
	samples, err := BytesToPCM16(data[wavHeaderSize : wavHeaderSize+int(h.DataSize)])
	if err != nil {
		return nil, 0, err
	}
	return samples, int(h.SampleRate), nil
}
