package audio

import (
	"bytes"
	"encoding/binary"

	"home-controller/internal/application"
)

const wavMIME = "audio/wav"

// EncodeWAV wraps 16-bit PCM samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, format application.AudioFormat) []byte {
	var buf bytes.Buffer

	channels := max(format.Channels, 1)
	blockAlign := channels * 2
	dataSize := len(samples) * 2
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, int32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, int32(16))
	binary.Write(&buf, binary.LittleEndian, int16(1))
	binary.Write(&buf, binary.LittleEndian, int16(channels))
	binary.Write(&buf, binary.LittleEndian, int32(format.SampleRate))
	binary.Write(&buf, binary.LittleEndian, int32(format.SampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, int16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, int32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// IsSilent reports whether every sample stays within ±threshold.
func IsSilent(samples []int16, threshold int16) bool {
	for _, s := range samples {
		if s > threshold || s < -threshold {
			return false
		}
	}
	return true
}

// Endpointer decides when an utterance is over: after some speech, a run of silence
// longer than the hold time ends it. maxSamples caps the length either way.
type Endpointer struct {
	threshold   int16
	holdSamples int
	maxSamples  int

	heardSpeech bool
	silentRun   int
	total       int
}

func NewEndpointer(format application.AudioFormat, threshold int16) *Endpointer {
	return &Endpointer{
		threshold:   threshold,
		holdSamples: format.SampleRate,
		maxSamples:  format.SampleRate * 10,
	}
}

// Feed consumes one buffer and reports whether the utterance is complete.
func (e *Endpointer) Feed(buffer []int16) bool {
	e.total += len(buffer)
	if IsSilent(buffer, e.threshold) {
		e.silentRun += len(buffer)
	} else {
		e.heardSpeech = true
		e.silentRun = 0
	}
	if e.total >= e.maxSamples {
		return true
	}
	return e.heardSpeech && e.silentRun > e.holdSamples
}

func (e *Endpointer) HeardSpeech() bool { return e.heardSpeech }
