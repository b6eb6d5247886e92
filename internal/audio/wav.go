package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"fieldtriage/internal/domain"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1

	bitsPerSample = 16
	wavHeaderSize = 44
)

// Format describes the PCM layout produced by the recorder.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) withDefaults() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = DefaultChannels
	}
	return f
}

func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * bitsPerSample / 8
}

// EncodeWAV wraps little-endian 16-bit PCM in a canonical RIFF/WAVE container.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	format = format.withDefaults()
	blockAlign := format.Channels * bitsPerSample / 8
	if len(pcm)%blockAlign != 0 {
		pcm = pcm[:len(pcm)-len(pcm)%blockAlign]
	}
	if int64(len(pcm)) > math.MaxUint32-wavHeaderSize {
		return nil, errors.New("recording too large for WAV container")
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(format.bytesPerSecond()))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// Finalize turns accumulated PCM chunks into an uploadable artifact. A
// recording without a single whole sample yields an empty artifact.
func Finalize(chunks [][]byte, format Format) (domain.AudioArtifact, error) {
	format = format.withDefaults()
	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	pcm := make([]byte, 0, size)
	for _, chunk := range chunks {
		pcm = append(pcm, chunk...)
	}

	data, err := EncodeWAV(pcm, format)
	if err != nil {
		return domain.AudioArtifact{}, err
	}
	pcmBytes := len(data) - wavHeaderSize
	if pcmBytes == 0 {
		return domain.AudioArtifact{}, nil
	}
	return domain.AudioArtifact{
		Data:        data,
		FileName:    "audio.wav",
		ContentType: "audio/wav",
		Duration:    time.Duration(pcmBytes) * time.Second / time.Duration(format.bytesPerSecond()),
	}, nil
}
