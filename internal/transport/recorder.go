package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hydrodrone/mission/internal/actuator"
)

// ReplyFunc produces the reply for a recorded batch.
type ReplyFunc func(frames []actuator.Frame) (actuator.Reply, error)

// Recorder logs batches instead of sending them. It backs the "dryrun"
// transport and tests.
type Recorder struct {
	mu      sync.Mutex
	batches [][]actuator.Frame
	reply   ReplyFunc
	logger  *slog.Logger
}

// NewRecorder creates an empty recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger.With("component", "dryrun")}
}

// SetReply installs fn as the reply source. nil replies with nothing.
func (r *Recorder) SetReply(fn ReplyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reply = fn
}

func (r *Recorder) Send(ctx context.Context, frames ...actuator.Frame) (actuator.Reply, error) {
	if len(frames) == 0 {
		return actuator.Reply{}, ErrNoFrames
	}
	if err := ctx.Err(); err != nil {
		return actuator.Reply{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]actuator.Frame(nil), frames...))
	r.logger.Info("Frames", "hex", actuator.JoinHex(frames...))
	if r.reply == nil {
		return actuator.Reply{}, nil
	}
	return r.reply(frames)
}

// Batches returns a copy of every recorded batch.
func (r *Recorder) Batches() [][]actuator.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]actuator.Frame, len(r.batches))
	for i, b := range r.batches {
		out[i] = append([]actuator.Frame(nil), b...)
	}
	return out
}

// Hex returns every batch in canusb's joined form.
func (r *Recorder) Hex() []string {
	batches := r.Batches()
	out := make([]string, len(batches))
	for i, b := range batches {
		out[i] = actuator.JoinHex(b...)
	}
	return out
}

// Reset drops recorded batches.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = nil
}

func (r *Recorder) Close() error {
	return nil
}
