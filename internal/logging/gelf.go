package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a JSON handler that ships records to Graylog at addr
// over UDP. The returned closer releases the socket.
func NewGELFHandler(addr, level, facility string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("gelf writer %s: %w", addr, err)
	}
	if facility != "" {
		w.Facility = facility
	}
	return slog.NewJSONHandler(w, handlerOptions(parseLevel(level))), w, nil
}
