package eventlog

import (
	"fmt"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxCapacity guards against accidental misconfiguration.
const MaxCapacity uint32 = 1024 * 1024

// Recorder keeps the most recent records. Add is safe from any goroutine;
// older records are overwritten when the buffer is full.
type Recorder struct {
	buffer mpmc.RichOverlappedRingBuffer[Record]

	added       atomic.Int64
	overwritten atomic.Int64
}

func NewRecorder(capacity uint32) (*Recorder, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("capacity must be > 0")
	}
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("capacity %d exceeds maximum %d", capacity, MaxCapacity)
	}
	return &Recorder{buffer: mpmc.NewOverlappedRingBuffer[Record](capacity)}, nil
}

// Add stores rec, evicting the oldest record if needed.
func (r *Recorder) Add(rec Record) error {
	overwrites, err := r.buffer.EnqueueM(rec)
	if err != nil {
		return fmt.Errorf("enqueue record: %w", err)
	}
	r.added.Add(1)
	r.overwritten.Add(int64(overwrites))
	return nil
}

// Drain removes and returns every buffered record, oldest first.
func (r *Recorder) Drain() ([]Record, error) {
	var out []Record
	for !r.buffer.IsEmpty() {
		rec, err := r.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("dequeue record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Added and Overwritten count records accepted and lost to overflow.
func (r *Recorder) Added() int64       { return r.added.Load() }
func (r *Recorder) Overwritten() int64 { return r.overwritten.Load() }
