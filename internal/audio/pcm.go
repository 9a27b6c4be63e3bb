package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeChunks concatenates base64 audio chunks in arrival order.
func DecodeChunks(chunks []string) ([]byte, error) {
	var buf bytes.Buffer
	for i, chunk := range chunks {
		data, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", i, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// EncodeChunk is the inverse of DecodeChunks for a single chunk.
func EncodeChunk(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// WriteWAV encodes 16-bit PCM as a WAV file.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	if channels <= 0 {
		channels = 1
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWAV decodes a WAV file into 16-bit little-endian PCM.
func ReadWAV(r io.ReadSeeker) (pcm []byte, sampleRate int, channels int, err error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read wav pcm: %w", err)
	}

	shift := 0
	if depth := int(dec.BitDepth); depth > 16 {
		shift = depth - 16
	}
	out := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		if shift > 0 {
			sample >>= shift
		} else if dec.BitDepth == 8 {
			sample = (sample - 128) << 8
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample)))
	}
	return out, int(dec.SampleRate), int(dec.NumChans), nil
}
