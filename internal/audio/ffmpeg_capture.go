package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"fieldtriage/internal/ports"
)

// startupProbe is how long a recorder must survive before the device is
// considered acquired.
const startupProbe = 250 * time.Millisecond

// DeviceError reports that the input device could not be acquired.
type DeviceError struct {
	Device string
	Reason string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("input device %q unavailable: %s", e.Device, e.Reason)
	}
	return fmt.Sprintf("input device %q unavailable", e.Device)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// FFmpegMicrophone records raw s16le PCM from the system microphone through
// an ffmpeg child process.
type FFmpegMicrophone struct {
	command string
}

func NewFFmpegMicrophone(command string) *FFmpegMicrophone {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	return &FFmpegMicrophone{command: command}
}

func (m *FFmpegMicrophone) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withAudioDefaults(cfg)

	cmd := exec.CommandContext(ctx, m.command, recorderArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &DeviceError{Device: cfg.InputDevice, Reason: "could not open recorder pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &DeviceError{Device: cfg.InputDevice, Reason: "could not launch recorder", Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		reason := trimOutput(stderr.String())
		if reason == "" {
			reason = "recorder exited before capture started"
		}
		return nil, &DeviceError{Device: cfg.InputDevice, Reason: reason, Err: err}
	case <-time.After(startupProbe):
	}

	return &microphoneSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func withAudioDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func recorderArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type microphoneSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	releaseOnce sync.Once
	releaseErr  error
}

func (s *microphoneSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *microphoneSession) Close() error {
	return s.Stop()
}

// Stop interrupts the recorder, escalating to kill, and releases the device.
// Repeated calls return the first result.
func (s *microphoneSession) Stop() error {
	s.releaseOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.releaseErr = ignoreExitStatus(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.releaseErr = ignoreExitStatus(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.releaseErr == nil {
			s.releaseErr = closeErr
		}
		if s.releaseErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.releaseErr = fmt.Errorf("%w: %s", s.releaseErr, trimOutput(s.stderr.String()))
		}
	})
	return s.releaseErr
}

// ignoreExitStatus treats a non-zero exit after interrupt as a clean stop.
func ignoreExitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(s string) string {
	return strings.TrimSpace(s)
}
