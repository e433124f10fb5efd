// Package serialmux provides an abstraction over the board's serial port
// with the ability for multiple clients to subscribe to the raw byte
// stream and for one owner to send control commands.
//
// The board's streaming protocol is binary with no line discipline, so
// unlike a text-oriented multiplexer the fan-out unit here is the raw
// read chunk; framing is the decoder's job downstream.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cortical-data/affinity.report/internal/monitoring"
	"github.com/cortical-data/affinity.report/internal/timeutil"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// Board control bytes. The device has no framing on the command channel:
// each command is a single ASCII byte.
const (
	CmdStop     byte = 's' // halt streaming
	CmdDefaults byte = 'd' // restore default channel settings
	CmdStart    byte = 'b' // begin streaming
	CmdReset    byte = 'v' // soft reset
)

// settleDelay is how long the board needs after a control byte before it
// reliably accepts the next one.
const settleDelay = 500 * time.Millisecond

// Stats counts multiplexer activity.
type Stats struct {
	Chunks        uint64 `json:"chunks"`
	Bytes         uint64 `json:"bytes"`
	DroppedChunks uint64 `json:"dropped_chunks"` // per-subscriber sends skipped under backpressure
}

// SerialMux fans the board's byte stream out to subscribers. Decoded
// real-time freshness outranks completeness: a subscriber that cannot
// keep up loses chunks rather than stalling the read loop.
type SerialMux[T SerialPorter] struct {
	port         T
	clock        timeutil.Clock
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	stats   Stats
	statsMu sync.Mutex
}

// Mux is the interface consumed by the daemon and the API layer.
type Mux interface {
	// Subscribe creates a new channel receiving raw byte chunks from the
	// serial port. The returned ID identifies the channel when
	// unsubscribing. Chunks are owned by the receiver.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(string)
	// SendCommand writes a single control byte to the board.
	SendCommand(byte) error
	// Initialize runs the board's start-streaming handshake.
	Initialize(context.Context) error
	// Monitor reads from the serial port and fans chunks out to
	// subscribers until the context is cancelled or the port fails.
	Monitor(context.Context) error
	// Stats returns a snapshot of the multiplexer counters.
	Stats() Stats
	// Close closes all subscriber channels and the port.
	Close() error
}

// NewSerialMux creates a SerialMux backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		clock:       timeutil.RealClock{},
		subscribers: make(map[string]chan []byte),
	}
}

// subscriberBuffer smooths read bursts; at 115200 baud a full buffer
// represents well under a second of stream.
const subscriberBuffer = 64

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes one control byte to the board.
func (s *SerialMux[T]) SendCommand(cmd byte) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte{cmd})
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrWriteFailed
	}
	return nil
}

// Initialize runs the streaming handshake: stop any in-flight stream,
// restore channel defaults, then begin streaming. The board needs a
// settle period between control bytes.
func (s *SerialMux[T]) Initialize(ctx context.Context) error {
	steps := []struct {
		cmd  byte
		name string
	}{
		{CmdStop, "stop streaming"},
		{CmdDefaults, "restore defaults"},
		{CmdStart, "begin streaming"},
	}
	for _, step := range steps {
		if err := s.SendCommand(step.cmd); err != nil {
			return fmt.Errorf("failed to %s: %w", step.name, err)
		}
		select {
		case <-s.clock.After(settleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Monitor reads chunks from the serial port and fans them out. A read
// returning zero bytes (timeout) is not an error; the loop just polls
// again, which is what lets a dead-quiet board idle the pipeline without
// failing it.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan []byte)
	errChan := make(chan error, 1)

	// Reads block, so they live in their own goroutine; the outer loop
	// stays responsive to cancellation.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, 4096)
		for {
			n, err := s.port.Read(buf)
			if err != nil {
				select {
				case errChan <- err:
				case <-ctx.Done():
				}
				return
			}
			if n == 0 {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunkChan <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errChan:
			return err

		case chunk, ok := <-chunkChan:
			if !ok {
				return nil
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.statsMu.Lock()
			s.stats.Chunks++
			s.stats.Bytes += uint64(len(chunk))
			s.statsMu.Unlock()

			s.subscriberMu.Lock()
			for id, ch := range s.subscribers {
				// Each subscriber gets its own copy; the chunk crosses a
				// goroutine boundary and receivers are free to retain it.
				c := make([]byte, len(chunk))
				copy(c, chunk)
				select {
				case ch <- c:
				default:
					// Slow subscriber: drop rather than stall the reader.
					s.statsMu.Lock()
					s.stats.DroppedChunks++
					s.statsMu.Unlock()
					monitoring.Debugf("serialmux: dropped chunk for subscriber %s", id)
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}
