package host

import (
	"fmt"
	"io"
	"sync"

	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

// WriterSink reports every applied region as a line on w.
type WriterSink struct {
	mu        sync.Mutex
	w         io.Writer
	supported bool
	applied   geom.Region
	count     int
}

var _ platform.PassthroughSink = (*WriterSink)(nil)

// NewWriterSink creates a sink. When supported is false every apply fails
// with platform.ErrUnsupported.
func NewWriterSink(w io.Writer, supported bool) *WriterSink {
	return &WriterSink{w: w, supported: supported}
}

// ApplyPassthroughRegion implements platform.PassthroughSink.
func (s *WriterSink) ApplyPassthroughRegion(r geom.Region) error {
	if !s.supported {
		return platform.ErrUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "passthrough %s\n", r); err != nil {
		return fmt.Errorf("write region: %w", err)
	}
	s.applied = r
	s.count++
	return nil
}

// Applied returns the last region and how many applies happened.
func (s *WriterSink) Applied() (geom.Region, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied, s.count
}
