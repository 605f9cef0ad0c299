package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Format describes raw PCM coming out of a Stream. Only signed 16-bit
// little-endian samples are supported.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is 16 kHz mono S16LE, enough for speech.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// BytesPerSecond returns the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// Duration returns the play time of n PCM bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

func (f Format) validate() error {
	if f.BitDepth != 16 || f.Channels < 1 || f.SampleRate < 1 {
		return fmt.Errorf("unsupported pcm format %+v", f)
	}
	return nil
}

// Stream is an open capture device. Close releases the device and makes a
// pending Read return.
type Stream interface {
	io.Reader
	Close() error
	Format() Format
}

// Microphone acquires capture streams. At most one stream is held at a time
// by a Recorder.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// CommandMicrophone captures audio by running an external program that writes
// raw PCM in Format to stdout, e.g.
//
//	arecord -q -f S16_LE -r 16000 -c 1 -t raw
type CommandMicrophone struct {
	Path   string
	Args   []string
	Format Format
}

// DefaultCommandMicrophone returns an arecord based microphone.
func DefaultCommandMicrophone() *CommandMicrophone {
	return &CommandMicrophone{
		Path:   "arecord",
		Args:   []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw"},
		Format: DefaultFormat,
	}
}

// Open starts the capture program.
func (m *CommandMicrophone) Open(ctx context.Context) (Stream, error) {
	if err := m.Format.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The process outlives ctx: it is bound to the stream, not to acquisition.
	cmd := exec.Command(m.Path, m.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", m.Path, err)
	}
	return &commandStream{cmd: cmd, out: stdout, format: m.Format}, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	format Format
	once   sync.Once
	err    error
}

func (s *commandStream) Read(p []byte) (int, error) { return s.out.Read(p) }

func (s *commandStream) Format() Format { return s.format }

func (s *commandStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.err = err
		}
	})
	return s.err
}

func isEOF(err error) bool { return errors.Is(err, io.EOF) }
