package qrf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"
)

//PendingSink receives predicted samples in quantized form for later label
//confirmation. Offer must not block and must copy the code bytes before
//returning, because the caller reuses the underlying buffer for the next
//sample. The return value reports whether the sample was accepted.
type PendingSink interface {
	Offer(codes []byte, label uint8) bool
}

//PendingSample is one buffered sample.
type PendingSample struct {
	When  int64 //unix nanoseconds
	Label uint8
	Codes []byte
}

//PendingLog is a bounded append-only file sink. Offer hands the sample to a
//background writer over a buffered channel and reports a drop when the
//channel is full, so a slow disk never stalls prediction.
type PendingLog struct {
	samples chan PendingSample
	done    chan struct{}
	file    *os.File

	mu       sync.Mutex
	closed   bool
	writeErr error
}

//NewPendingLog opens (or creates) a pending log file and starts its writer.
//Capacity bounds the number of samples in flight.
func NewPendingLog(filename string, capacity int) (*PendingLog, error) {
	if capacity < 1 {
		return nil, errors.New("pending log capacity must be positive")
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	plog := &PendingLog{
		samples: make(chan PendingSample, capacity),
		done:    make(chan struct{}),
		file:    file,
	}
	go plog.writeLoop()
	return plog, nil
}

//Offer buffers one sample. It never blocks; a full buffer or a closed log
//drops the sample and returns false.
func (plog *PendingLog) Offer(codes []byte, label uint8) bool {
	plog.mu.Lock()
	defer plog.mu.Unlock()
	if plog.closed {
		return false
	}

	sample := PendingSample{
		When:  time.Now().UnixNano(),
		Label: label,
		Codes: append([]byte(nil), codes...),
	}
	select {
	case plog.samples <- sample:
		return true
	default:
		return false
	}
}

//Close stops accepting samples, flushes the ones already buffered and closes
//the file. It returns the first write error the background writer hit, if
//any.
func (plog *PendingLog) Close() error {
	plog.mu.Lock()
	if plog.closed {
		plog.mu.Unlock()
		return nil
	}
	plog.closed = true
	plog.mu.Unlock()

	close(plog.samples)
	<-plog.done

	closeErr := plog.file.Close()
	plog.mu.Lock()
	defer plog.mu.Unlock()
	if plog.writeErr != nil {
		return plog.writeErr
	}
	return closeErr
}

func (plog *PendingLog) writeLoop() {
	defer close(plog.done)
	for sample := range plog.samples {
		if err := writePendingRecord(plog.file, sample); err != nil {
			plog.mu.Lock()
			if plog.writeErr == nil {
				plog.writeErr = err
			}
			plog.mu.Unlock()
		}
	}
}

//One record on disk is
//
//	uint32  body length
//	uint32  CRC-32 (IEEE) of the body
//	int64   unix-nanosecond timestamp
//	uint8   label
//	uint16  code byte count
//	bytes   packed codes
//
//all little endian. The checksum lets a reader detect a torn tail record
//after a crash and stop there instead of returning garbage.
func writePendingRecord(w io.Writer, sample PendingSample) error {
	body := make([]byte, 8+1+2+len(sample.Codes))
	binary.LittleEndian.PutUint64(body, uint64(sample.When))
	body[8] = sample.Label
	binary.LittleEndian.PutUint16(body[9:], uint16(len(sample.Codes)))
	copy(body[11:], sample.Codes)

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header, uint32(len(body)))
	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(body))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

//ReadPendingLog replays every intact record of a pending log file. A torn or
//corrupt tail record ends the replay without an error; corruption anywhere
//else surfaces as ErrChecksumMismatch.
func ReadPendingLog(filename string) ([]PendingSample, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var samples []PendingSample
	rest := raw
	for len(rest) > 0 {
		if len(rest) < 8 {
			break //torn header at the tail
		}
		bodyLen := int(binary.LittleEndian.Uint32(rest[:4]))
		storedSum := binary.LittleEndian.Uint32(rest[4:8])
		if bodyLen < 11 {
			return samples, fmt.Errorf("pending record of %d bytes: %w", bodyLen, ErrMalformedHeader)
		}
		if len(rest) < 8+bodyLen {
			break //torn body at the tail
		}
		body := rest[8 : 8+bodyLen]
		if crc32.ChecksumIEEE(body) != storedSum {
			if len(rest) == 8+bodyLen {
				break //corrupt tail record
			}
			return samples, fmt.Errorf("pending record %d: %w", len(samples), ErrChecksumMismatch)
		}
		codeLen := int(binary.LittleEndian.Uint16(body[9:11]))
		if 11+codeLen != bodyLen {
			return samples, fmt.Errorf("pending record %d code length %d: %w", len(samples), codeLen, ErrMalformedHeader)
		}
		samples = append(samples, PendingSample{
			When:  int64(binary.LittleEndian.Uint64(body[:8])),
			Label: body[8],
			Codes: append([]byte(nil), body[11:]...),
		})
		rest = rest[8+bodyLen:]
	}
	return samples, nil
}
