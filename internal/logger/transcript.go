// Package logger records real-time connection traffic as JSON-Lines
// transcripts: one header line followed by one line per frame.
package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Frame directions.
const (
	DirectionIn  = "i"
	DirectionOut = "o"
)

// TranscriptHeader is the first line of a transcript.
type TranscriptHeader struct {
	Version   int    `json:"version"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
}

// FrameEvent is one recorded frame.
// Format: [time_offset, direction, data]
type FrameEvent struct {
	Offset    float64
	Direction string
	Data      string
}

func (e FrameEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Offset, e.Direction, e.Data})
}

func (e *FrameEvent) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	direction, ok := arr[1].(string)
	if !ok || (direction != DirectionIn && direction != DirectionOut) {
		return fmt.Errorf("invalid direction %v", arr[1])
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.Offset = offset
	e.Direction = direction
	e.Data = payload
	return nil
}

// FrameRecorder writes a transcript of one connection.
type FrameRecorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// NewFrameRecorder creates a recorder writing to filePath.
func NewFrameRecorder(filePath string) (*FrameRecorder, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}
	return &FrameRecorder{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewFrameRecorderWithWriter creates a recorder writing to w.
func NewFrameRecorderWithWriter(w io.Writer) *FrameRecorder {
	return &FrameRecorder{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the transcript header. Call it once, before any frame.
func (r *FrameRecorder) WriteHeader(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(TranscriptHeader{
		Version:   1,
		URL:       url,
		Timestamp: r.startTime.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// RecordInbound records a frame received from the peer.
func (r *FrameRecorder) RecordInbound(data []byte) error {
	return r.writeEvent(DirectionIn, data)
}

// RecordOutbound records a frame sent to the peer.
func (r *FrameRecorder) RecordOutbound(data []byte) error {
	return r.writeEvent(DirectionOut, data)
}

func (r *FrameRecorder) writeEvent(direction string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	eventData, err := json.Marshal(FrameEvent{
		Offset:    time.Since(r.startTime).Seconds(),
		Direction: direction,
		Data:      string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(eventData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the transcript file when the recorder owns it.
func (r *FrameRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadTranscript parses a transcript written by FrameRecorder.
func ReadTranscript(rd io.Reader) (*TranscriptHeader, []FrameEvent, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to read header: %w", err)
		}
		return nil, nil, fmt.Errorf("empty transcript")
	}
	var header TranscriptHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	var events []FrameEvent
	for line := 2; scanner.Scan(); line++ {
		var ev FrameEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return &header, events, nil
}
