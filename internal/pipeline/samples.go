package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/models"
)

const sampleStamp = "20060102_1504"

// WriteSamples stores the narrative and the payload of a report as
// report_<stamp>.md and report_<stamp>.json under dir.
func WriteSamples(dir string, report models.Report, now time.Time) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create samples dir: %w", err)
	}
	stamp := now.UTC().Format(sampleStamp)
	mdPath := filepath.Join(dir, "report_"+stamp+".md")
	jsonPath := filepath.Join(dir, "report_"+stamp+".json")

	if err := os.WriteFile(mdPath, []byte(report.Narrative), 0o644); err != nil {
		return "", "", fmt.Errorf("write markdown report: %w", err)
	}
	payload, err := json.MarshalIndent(report.Payload, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode report payload: %w", err)
	}
	if err := os.WriteFile(jsonPath, payload, 0o644); err != nil {
		return "", "", fmt.Errorf("write json report: %w", err)
	}
	return mdPath, jsonPath, nil
}
