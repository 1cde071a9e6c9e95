package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/baconwaifu/vwdiag/internal/canbus"
)

// Frame represents a captured data frame
type Frame struct {
	Timestamp time.Time   `json:"timestamp"`
	Type      string      `json:"type"`         // "OBD2", "VWTP", or "CAN"
	ID        uint32      `json:"id,omitempty"` // CAN ID if applicable
	Data      []byte      `json:"data"`         // Raw frame data
	Decoded   interface{} `json:"decoded"`      // Decoded data (if available)
}

// FromCANFrame builds a raw-CAN capture Frame from a canbus.Frame, stamped
// at the moment of capture.
func FromCANFrame(f canbus.Frame) Frame {
	return Frame{
		Timestamp: time.Now(),
		Type:      "CAN",
		ID:        f.ID,
		Data:      append([]byte(nil), f.Data...),
	}
}

// Session represents a capture session
type Session struct {
	ID          string            `json:"id"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time,omitempty"`
	VehicleInfo string            `json:"vehicle_info"`
	Frames      []Frame           `json:"frames"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	filePath    string            // Path where session will be saved
}

// NewSession creates a new capture session, identified by a fresh UUID so
// captures from concurrent runs never collide on disk or in the
// datastore.
func NewSession(vehicleInfo string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		StartTime:   time.Now(),
		VehicleInfo: vehicleInfo,
		Frames:      make([]Frame, 0),
		Metadata:    make(map[string]string),
	}
}

// AddFrame adds a frame to the session
func (s *Session) AddFrame(frame Frame) {
	s.Frames = append(s.Frames, frame)
}

// SetMetadata adds or updates metadata
func (s *Session) SetMetadata(key, value string) {
	s.Metadata[key] = value
}

// Save writes the session to disk
func (s *Session) Save() error {
	if s.filePath == "" {
		// Generate default filename if none specified
		s.filePath = filepath.Join("captures", fmt.Sprintf("session_%s.json", s.ID))
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Set end time
	s.EndTime = time.Now()

	// Marshal to JSON
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write to file
	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return nil
}

// LoadSession reads a session previously written by Save.
func LoadSession(filename string) (*Session, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	session.filePath = filename
	return &session, nil
}
