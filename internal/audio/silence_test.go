package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func repeat(value int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestAnalyzeEmptyBufferIsSilent(t *testing.T) {
	if v := Analyze(nil); !v.IsSilent {
		t.Fatalf("expected empty buffer to be silent")
	}
	if v := Analyze([]byte{0x01}); !v.IsSilent {
		t.Fatalf("expected single byte buffer to be silent")
	}
}

func TestAnalyzeThresholds(t *testing.T) {
	loud := make([]int16, 0, 100)
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			loud = append(loud, 2000)
		} else {
			loud = append(loud, -2000)
		}
	}

	cases := []struct {
		name    string
		samples []int16
		silent  bool
	}{
		{name: "clear speech", samples: loud, silent: false},
		{name: "all zero", samples: repeat(0, 100), silent: true},
		{name: "mean below 300", samples: append(repeat(1200, 20), repeat(0, 80)...), silent: true},
		{name: "peak below 1000", samples: repeat(900, 100), silent: true},
		{
			// mean = 50*5000/500 = 500, peak 5000, fraction 50/500 = 0.1 (not below)
			name:    "fraction exactly ten percent",
			samples: append(repeat(5000, 50), repeat(0, 450)...),
			silent:  false,
		},
		{
			// mean = 9*32767/100 ≈ 2949, peak 32767, fraction 0.09
			name:    "short loud burst",
			samples: append(repeat(32767, 9), repeat(0, 91)...),
			silent:  true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			v := Analyze(pcmOf(tc.samples...))
			if v.IsSilent != tc.silent {
				t.Fatalf("expected silent=%v, got %+v", tc.silent, v)
			}
		})
	}
}

func TestAnalyzeReportsAmplitudes(t *testing.T) {
	v := Analyze(pcmOf(-1000, 3000, 0, 0))
	if v.PeakAmplitude != 3000 {
		t.Fatalf("unexpected peak %d", v.PeakAmplitude)
	}
	if v.AverageAmplitude != 1000 {
		t.Fatalf("unexpected mean %f", v.AverageAmplitude)
	}
	if v.NonSilentFraction != 0.5 {
		t.Fatalf("unexpected fraction %f", v.NonSilentFraction)
	}
	if v.Samples != 4 {
		t.Fatalf("unexpected sample count %d", v.Samples)
	}
}

func TestAnalyzeWithCustomThresholds(t *testing.T) {
	th := DefaultThresholds
	th.MinPeakAmplitude = 500
	v := AnalyzeWith(pcmOf(repeat(900, 100)...), th)
	if v.IsSilent {
		t.Fatalf("expected relaxed peak threshold to classify as speech: %+v", v)
	}
}

func TestThresholdsFromDefaultConfig(t *testing.T) {
	if got := ThresholdsFromConfig(config.Default().Audio.Silence); got != DefaultThresholds {
		t.Fatalf("default config should match default thresholds, got %+v", got)
	}
}

func TestDecodeChunksPreservesOrder(t *testing.T) {
	chunks := []string{EncodeChunk([]byte{1, 2}), EncodeChunk([]byte{3}), EncodeChunk([]byte{4, 5})}
	pcm, err := DecodeChunks(chunks)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4, 5}) {
		t.Fatalf("unexpected pcm %v", pcm)
	}
	if _, err := DecodeChunks([]string{"not base64!"}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pcm := pcmOf(100, -200, 3000, -32768)
	if err := WriteWAV(file, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	_ = file.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()
	got, rate, channels, err := ReadWAV(in)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Fatalf("unexpected format %d/%d", rate, channels)
	}
	if string(got) != string(pcm) {
		t.Fatalf("pcm mismatch: %v vs %v", got, pcm)
	}
}

func TestWriteWAVRejectsOddPayload(t *testing.T) {
	file, err := os.Create(filepath.Join(t.TempDir(), "odd.wav"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	if err := WriteWAV(file, []byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatalf("expected alignment error")
	}
}
