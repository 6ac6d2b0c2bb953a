package threshold

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// state is the on-disk form of an adjuster.
type state struct {
	Threshold float64   `yaml:"threshold"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Samples   []Sample  `yaml:"samples"`
}

// Save writes the threshold and window to path as YAML. The file is
// replaced atomically.
func (a *Adjuster) Save(path string) error {
	a.mu.Lock()
	st := state{
		Threshold: a.threshold,
		UpdatedAt: a.now().UTC(),
		Samples:   a.window.Samples(),
	}
	a.mu.Unlock()

	data, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("marshaling threshold state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".threshold-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing threshold state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing threshold state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming threshold state: %w", err)
	}

	a.logger.Debug("threshold state saved",
		zap.String("path", path),
		zap.Float64("threshold", st.Threshold),
		zap.Int("samples", len(st.Samples)))
	return nil
}

// Load restores the threshold and window from path. A missing file leaves
// the adjuster unchanged and reports false. The loaded threshold is clamped
// to the configured bounds and only the newest samples that fit the window
// are kept.
func (a *Adjuster) Load(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading threshold state: %w", err)
	}

	var st state
	if err := yaml.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("parsing threshold state %s: %w", path, err)
	}

	w := NewWindow(a.cfg.Window)
	for _, s := range st.Samples {
		w.Push(s)
	}

	a.mu.Lock()
	if st.Threshold > 0 {
		a.threshold = clamp(round4(st.Threshold), a.cfg.Min, a.cfg.Max)
	}
	a.window = w
	threshold := a.threshold
	a.mu.Unlock()

	a.logger.Info("threshold state loaded",
		zap.String("path", path),
		zap.Float64("threshold", threshold),
		zap.Int("samples", w.Len()))
	return true, nil
}
