package media

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/oov/audio/resampler"
)

const (
	// PCMU is always 8 kHz mono.
	SampleRate  = 8000
	NumChannels = 1

	resampleQuality = 10
)

// Source produces 8 kHz mono PCM for a capture track.
// Sources are shared by the tracks of consecutive attempts, so implementations must be safe for concurrent use.
type Source interface {
	// Fill frame with the next samples.
	ReadFrame(frame []int16) error
}

// --------------------------------------------------------------------------------
// ToneSource

// A test tone: a sine wave with slow frequency and amplitude modulation and two harmonics.
type ToneSource struct {
	mu         sync.Mutex
	baseFreq   float64
	phase      float64
	frameCount int64
}

func NewToneSource(baseFreq float64) *ToneSource {
	return &ToneSource{baseFreq: baseFreq}
}

func (s *ToneSource) ReadFrame(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	freqModulation := math.Sin(float64(s.frameCount)*0.01) * 50
	currentFreq := s.baseFreq + freqModulation
	amplitude := 0.3 + 0.2*math.Sin(float64(s.frameCount)*0.005)

	for i := range frame {
		sample := math.Sin(s.phase)

		// Harmonics are only added below Nyquist
		if currentFreq*2 < SampleRate/2 {
			sample += 0.3 * math.Sin(s.phase*2)
		}
		if currentFreq*3 < SampleRate/2 {
			sample += 0.1 * math.Sin(s.phase*3)
		}
		frame[i] = int16(sample * amplitude * 16383)

		s.phase += 2 * math.Pi * currentFreq / SampleRate
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	s.frameCount++
	return nil
}

// --------------------------------------------------------------------------------
// WAVSource

// Plays a .WAV file in a loop. The file is decoded once, mixed down to mono and resampled to 8 kHz.
type WAVSource struct {
	mu       sync.Mutex
	samples  []int16
	position int
}

func NewWAVSource(audioFilePath string, logger *slog.Logger) (*WAVSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(audioFilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("could not decode audio file %s: %v", audioFilePath, decoder.Err())
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not get full PCM buffer from audio file %s: %w", audioFilePath, err)
	}

	mono := mixDown(buf)
	if len(mono) == 0 {
		return nil, errors.New("audio file contains no samples")
	}
	resampled := resample(mono, buf.Format.SampleRate, SampleRate)

	samples := make([]int16, len(resampled))
	for i, v := range resampled {
		samples[i] = int16(max(-1, min(1, v)) * math.MaxInt16)
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", buf.Format.SampleRate,
		"channels", buf.Format.NumChannels,
		"samples", len(samples),
	)
	return &WAVSource{samples: samples}, nil
}

func (s *WAVSource) ReadFrame(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range frame {
		frame[i] = s.samples[s.position]
		s.position = (s.position + 1) % len(s.samples)
	}
	return nil
}

// Average the interleaved channels of buf into normalized mono samples.
func mixDown(buf *goaudio.IntBuffer) []float32 {
	channels := max(buf.Format.NumChannels, 1)
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	mono := make([]float32, len(buf.Data)/channels)
	for i := range mono {
		var sum float32
		for c := range channels {
			sum += float32(buf.Data[i*channels+c])
		}
		mono[i] = sum / float32(channels) / scale
	}
	return mono
}

func resample(in []float32, sourceRate, sinkRate int) []float32 {
	if sourceRate == sinkRate {
		return in
	}

	r := resampler.New(1, sourceRate, sinkRate, resampleQuality)
	out := make([]float32, 0, len(in)*sinkRate/sourceRate+1)
	buf := make([]float32, 4096)
	for len(in) > 0 {
		read, written := r.ProcessFloat32(0, in, buf)
		out = append(out, buf[:written]...)
		if read == 0 && written == 0 {
			break
		}
		in = in[read:]
	}
	return out
}
