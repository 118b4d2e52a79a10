// Package debug assembles the diagnostics written by `gpgvault doctor`. A
// bundle describes the environment and configuration, never vault contents.
package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Bundle struct {
	GeneratedAt string            `json:"generated_at"`
	GOOS        string            `json:"goos"`
	GOARCH      string            `json:"goarch"`
	GoVersion   string            `json:"go_version"`
	Version     map[string]string `json:"version,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Checks      []Check           `json:"checks"`
}

func NewBundle(now time.Time) Bundle {
	return Bundle{
		GeneratedAt: now.UTC().Format(time.RFC3339Nano),
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Checks:      []Check{},
	}
}

func (b *Bundle) Pass(name, format string, args ...any) {
	b.Checks = append(b.Checks, Check{Name: name, OK: true, Message: fmt.Sprintf(format, args...)})
}

func (b *Bundle) Fail(name string, err error) {
	b.Checks = append(b.Checks, Check{Name: name, OK: false, Message: err.Error()})
}

// Failed returns the checks that did not pass, in the order they ran.
func (b Bundle) Failed() []Check {
	var out []Check
	for _, check := range b.Checks {
		if !check.OK {
			out = append(out, check)
		}
	}
	return out
}

func WriteBundle(outputPath string, bundle Bundle) error {
	if outputPath == "" {
		return fmt.Errorf("write debug bundle: output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
		return fmt.Errorf("write debug bundle: create output directory: %w", err)
	}

	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("write debug bundle: marshal json: %w", err)
	}
	if err := os.WriteFile(outputPath, append(payload, '\n'), 0o600); err != nil {
		return fmt.Errorf("write debug bundle: %w", err)
	}
	return nil
}
