package analysis

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/baconwaifu/vwdiag/internal/capture"
)

// ExportCSV writes one row per decoded OBD2 field (rpm, speed, temp) and one
// row per DTC found in session's frames to filename, for loading into a
// spreadsheet or plotting tool.
func ExportCSV(session *capture.Session, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("analysis: creating %s: %w", filename, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "type", "id", "field", "value"}); err != nil {
		return err
	}

	for _, frame := range session.Frames {
		ts := frame.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")
		id := fmt.Sprintf("0x%X", frame.ID)

		if frame.Type != "OBD2" {
			continue
		}
		decoded, ok := frame.Decoded.(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"rpm", "speed", "temp"} {
			v, ok := decoded[field].(float64)
			if !ok {
				continue
			}
			if err := w.Write([]string{ts, frame.Type, id, field, fmt.Sprintf("%.2f", v)}); err != nil {
				return err
			}
		}
		if dtcs, ok := decoded["dtcs"].([]string); ok {
			for _, dtc := range dtcs {
				if err := w.Write([]string{ts, frame.Type, id, "dtc", dtc}); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
