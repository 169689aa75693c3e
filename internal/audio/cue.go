package audio

import (
	"fmt"
	"math"
)

// Cue names a short feedback sound.
type Cue string

const (
	CueAcknowledgement Cue = "acknowledgement"
	CueTurningOff      Cue = "turning_off"
	CueTaskAck         Cue = "task_ack"
)

const CueSampleRate = 22050

type tone struct {
	freq float64
	ms   int
}

var cueTones = map[Cue][]tone{
	CueAcknowledgement: {{880, 70}, {0, 25}, {1320, 110}},
	CueTurningOff:      {{1175, 80}, {0, 20}, {784, 80}, {0, 20}, {523, 160}},
	CueTaskAck:         {{1568, 60}},
}

// CuePCM synthesizes the cue as PCM16 mono at CueSampleRate.
func CuePCM(c Cue) ([]int16, error) {
	tones, ok := cueTones[c]
	if !ok {
		return nil, fmt.Errorf("unknown cue %q", c)
	}
	var out []int16
	for _, t := range tones {
		n := CueSampleRate * t.ms / 1000
		fade := min(n/8, CueSampleRate/200)
		for i := 0; i < n; i++ {
			if t.freq == 0 {
				out = append(out, 0)
				continue
			}
			env := 1.0
			if fade > 0 {
				switch {
				case i < fade:
					env = float64(i) / float64(fade)
				case i >= n-fade:
					env = float64(n-1-i) / float64(fade)
				}
			}
			v := 0.35 * env * math.Sin(2*math.Pi*t.freq*float64(i)/CueSampleRate)
			out = append(out, int16(v*32767))
		}
	}
	return out, nil
}

// CueWAV returns the cue wrapped in a WAV container.
func CueWAV(c Cue) ([]byte, error) {
	pcm, err := CuePCM(c)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(pcm, CueSampleRate), nil
}
