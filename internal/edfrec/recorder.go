// Package edfrec records decoded sample vectors to an EDF file so a
// session can be replayed through standard EEG tooling afterwards.
package edfrec

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/cortical-data/affinity.report/internal/cyton"
	"github.com/cortical-data/affinity.report/internal/eeg"
	"github.com/cortical-data/affinity.report/internal/monitoring"
)

// Full-scale range of a 24-bit front end at the default gain, in uV.
// EDF stores 16-bit samples, so the extra resolution is quantised away.
const physicalRange = float64(1<<23) * cyton.DefaultScale

// Recorder buffers decoded samples into one-second EDF data records.
// It is safe for use from a single producer goroutine plus Close.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	writer   *edf.Writer
	channels int
	perRec   int
	buf      [][]float64 // [channel][sample], at most perRec samples
	records  int
	closed   bool
}

// Create opens path for writing and lays down an EDF header describing
// the given montage. One data record holds one second of samples.
func Create(path string, channels int, sampleRate float64) (*Recorder, error) {
	perRec := int(math.Round(sampleRate))
	if channels <= 0 || perRec <= 0 {
		return nil, fmt.Errorf("edfrec: invalid shape %d channels at %.1f Hz", channels, sampleRate)
	}

	names := eeg.ChannelNames(channels)
	signals := make([]edf.SignalHeader, channels)
	for i := range signals {
		signals[i] = edf.SignalHeader{
			Label:             "EEG " + names[i],
			TransducerType:    "AgAgCl electrode",
			PhysicalDimension: "uV",
			PhysicalMin:       -physicalRange,
			PhysicalMax:       physicalRange,
			DigitalMin:        -32768,
			DigitalMax:        32767,
			SamplesPerRecord:  perRec,
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("edfrec: %w", err)
	}
	w, err := edf.Create(f, edf.Header{
		Version:            edf.Version0,
		PatientID:          "X X X X",
		RecordingID:        "Startdate " + time.Now().UTC().Format("02-Jan-2006"),
		StartTime:          time.Now().UTC(),
		DataRecordDuration: time.Second,
		SignalCount:        channels,
		Signals:            signals,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("edfrec: %w", err)
	}

	rec := &Recorder{
		file:     f,
		writer:   w,
		channels: channels,
		perRec:   perRec,
		buf:      make([][]float64, channels),
	}
	for i := range rec.buf {
		rec.buf[i] = make([]float64, 0, perRec)
	}
	monitoring.Logf("recording %d channels to %s", channels, path)
	return rec, nil
}

// Append adds one sample vector to the current data record, flushing
// the record to disk when a full second has accumulated. Vectors with
// the wrong channel count are rejected.
func (r *Recorder) Append(v cyton.SampleVector) error {
	if len(v.Channels) != r.channels {
		return fmt.Errorf("edfrec: got %d channels, want %d", len(v.Channels), r.channels)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("edfrec: recorder closed")
	}

	for i, sample := range v.Channels {
		r.buf[i] = append(r.buf[i], sample)
	}
	if len(r.buf[0]) < r.perRec {
		return nil
	}
	return r.flushLocked()
}

// Records reports the number of complete data records written.
func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Close finalizes the header and closes the file. A trailing partial
// second is discarded; EDF data records have a fixed size.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.writer.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("edfrec: finalize: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("edfrec: %w", err)
	}
	monitoring.Logf("recording closed after %d seconds", r.records)
	return nil
}

func (r *Recorder) flushLocked() error {
	if err := r.writer.WriteRecord(r.buf); err != nil {
		return fmt.Errorf("edfrec: write record: %w", err)
	}
	r.records++
	for i := range r.buf {
		r.buf[i] = r.buf[i][:0]
	}
	return nil
}
