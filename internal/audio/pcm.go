package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrOddPCM = errors.New("pcm16 payload has an odd byte count")

// PCM16ToBytes packs samples as little-endian PCM16.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 unpacks little-endian PCM16.
func BytesToPCM16(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, ErrOddPCM
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out, nil
}

func EncodePCM16Base64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(PCM16ToBytes(samples))
}

func DecodePCM16Base64(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode pcm16 payload: %w", err)
	}
	return BytesToPCM16(raw)
}

// Float converts a PCM16 sample into [-1, 1).
func Float(s int16) float64 {
	return float64(s) / 32768
}
