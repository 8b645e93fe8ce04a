package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// ReplaySampler reads samples from a JSON-lines stream, one Sample per
// line. It backs `fl monitor --replay` and the test suites; live signal
// sources plug in behind the same Sampler interface.
type ReplaySampler struct {
	scanner *bufio.Scanner

	mu   sync.Mutex
	done chan struct{}
	eof  bool
}

func NewReplaySampler(r io.Reader) *ReplaySampler {
	return &ReplaySampler{
		scanner: bufio.NewScanner(r),
		done:    make(chan struct{}),
	}
}

func (r *ReplaySampler) Sample(ctx context.Context) (Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eof {
		return Sample{}, io.EOF
	}
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return Sample{}, fmt.Errorf("decode sample: %w", err)
		}
		return s, nil
	}
	r.eof = true
	close(r.done)
	if err := r.scanner.Err(); err != nil {
		return Sample{}, err
	}
	return Sample{}, io.EOF
}

func (r *ReplaySampler) Done() <-chan struct{} {
	return r.done
}
