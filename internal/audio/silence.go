package audio

import (
	"encoding/binary"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/domain"
)

// Thresholds tune the silence analyzer. Amplitudes are on a ±32767 scale.
type Thresholds struct {
	SampleThreshold     int     // |sample| above this counts as non-silent
	MinMeanAmplitude    float64 // mean |sample| below this is silent
	MinPeakAmplitude    int     // peak |sample| below this is silent
	MinNonSilentPercent float64 // fraction of non-silent samples below this is silent
}

// DefaultThresholds reproduce the baseline classifier.
var DefaultThresholds = Thresholds{
	SampleThreshold:     300,
	MinMeanAmplitude:    300,
	MinPeakAmplitude:    1000,
	MinNonSilentPercent: 0.10,
}

// ThresholdsFromConfig maps the silence config section onto Thresholds.
func ThresholdsFromConfig(cfg config.SilenceConfig) Thresholds {
	return Thresholds{
		SampleThreshold:     cfg.SampleThreshold,
		MinMeanAmplitude:    cfg.MinMeanAmplitude,
		MinPeakAmplitude:    cfg.MinPeakAmplitude,
		MinNonSilentPercent: cfg.MinNonSilentFraction,
	}
}

// Analyze scores 16-bit little-endian PCM with DefaultThresholds.
func Analyze(pcm []byte) domain.SilenceVerdict {
	return AnalyzeWith(pcm, DefaultThresholds)
}

// AnalyzeWith scores 16-bit little-endian PCM. The three tests are ORed: any one failing marks
// the buffer silent, so a single loud click in a quiet clip is still caught by the fraction test.
func AnalyzeWith(pcm []byte, th Thresholds) domain.SilenceVerdict {
	count := len(pcm) / 2
	if count == 0 {
		return domain.SilenceVerdict{IsSilent: true}
	}

	var (
		sum       int64
		peak      int
		nonSilent int
	)
	for i := 0; i < count; i++ {
		sample := int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if sample < 0 {
			sample = -sample
		}
		sum += int64(sample)
		if sample > peak {
			peak = sample
		}
		if sample > th.SampleThreshold {
			nonSilent++
		}
	}

	mean := float64(sum) / float64(count)
	fraction := float64(nonSilent) / float64(count)
	silent := mean < th.MinMeanAmplitude ||
		peak < th.MinPeakAmplitude ||
		fraction < th.MinNonSilentPercent

	return domain.SilenceVerdict{
		IsSilent:          silent,
		AverageAmplitude:  mean,
		PeakAmplitude:     peak,
		NonSilentFraction: fraction,
		Samples:           count,
	}
}
