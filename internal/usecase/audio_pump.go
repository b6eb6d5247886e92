package usecase

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

const (
	defaultChunkSize = 4096
	minChunkSize     = 256
)

// pumpAudioChunks copies microphone PCM into the recording until the device
// is released. Read failures other than EOF are kept on the recording.
func pumpAudioChunks(rec *activeRecording, chunkSize int, logger *slog.Logger, done chan struct{}) {
	defer close(done)

	if chunkSize < minChunkSize {
		chunkSize = defaultChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := rec.audio.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			rec.appendChunk(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				logger.Warn("audio capture read failed", slog.Any("error", err))
				rec.setReadErr(err)
			}
			return
		}
	}
}
