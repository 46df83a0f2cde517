package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrCaptureFailure signals that a fresh capture could not be produced.
// It is fatal to the current request only.
var ErrCaptureFailure = errors.New("face capture failed")

// Frame is a transient capture image. It owns its backing temp file and must
// be discarded on every exit path of the request that created it.
type Frame struct {
	Path string
	Data []byte
}

// Discard removes the frame's backing file. Safe to call more than once.
func (f *Frame) Discard() {
	if f == nil || f.Path == "" {
		return
	}
	os.Remove(f.Path)
	f.Path = ""
}

// Source produces fresh captures on demand.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
}

// CommandSource shells out to a configurable grab command (ffmpeg, fswebcam)
// that writes a single frame to the output path handed to it. When the
// command contains an {output} placeholder the path is substituted there,
// otherwise it is appended as the final argument.
type CommandSource struct {
	args    []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommandSource parses a whitespace-separated capture command.
func NewCommandSource(command string, logger *zap.Logger) *CommandSource {
	return &CommandSource{
		args:    strings.Fields(command),
		timeout: 15 * time.Second,
		logger:  logger.Named("capture"),
	}
}

// Capture runs the grab command and returns the produced frame.
func (s *CommandSource) Capture(ctx context.Context) (*Frame, error) {
	if len(s.args) == 0 {
		return nil, fmt.Errorf("%w: no capture command configured", ErrCaptureFailure)
	}

	tmp, err := os.CreateTemp("", "facegate-capture-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	path := tmp.Name()
	tmp.Close()

	args := make([]string, 0, len(s.args)+1)
	substituted := false
	for _, a := range s.args {
		if strings.Contains(a, "{output}") {
			a = strings.ReplaceAll(a, "{output}", path)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, path)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(path)
		s.logger.Error("capture command failed",
			zap.Error(err),
			zap.String("command", args[0]),
			zap.ByteString("output", truncateOutput(out)),
		)
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		os.Remove(path)
		return nil, fmt.Errorf("%w: command produced no frame", ErrCaptureFailure)
	}

	return &Frame{Path: path, Data: data}, nil
}

// FromBytes spills an uploaded image to a temp file so it shares the frame
// lifecycle of webcam captures.
func FromBytes(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrCaptureFailure)
	}
	tmp, err := os.CreateTemp("", "facegate-upload-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	return &Frame{Path: tmp.Name(), Data: data}, nil
}

func truncateOutput(out []byte) []byte {
	const max = 512
	if len(out) <= max {
		return out
	}
	return out[:max]
}
