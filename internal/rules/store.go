package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// DefaultRulesDir is the default root of the learned rule layout.
const DefaultRulesDir = "rules/learning-rules"

const maxSlugRunes = 50

// Slug turns a title into a file-name-safe fragment. Letters and digits of
// any script are kept; every other run becomes a single dash.
func Slug(title string) string {
	var b strings.Builder
	n := 0
	pendingDash := false
	for _, r := range strings.ToLower(title) {
		if n >= maxSlugRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && n > 0 {
				b.WriteByte('-')
				n++
				if n >= maxSlugRunes {
					break
				}
			}
			pendingDash = false
			b.WriteRune(r)
			n++
			continue
		}
		pendingDash = true
	}

	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "rule"
	}
	return slug
}

// RelPath is the path of c's rule file relative to the rules root:
// <status>/<YYYY-MM>/<slug>-<YYYYMMDDTHHMMSS>-<id8>.md
func RelPath(c *Candidate) (string, error) {
	dir, err := c.State.DirName()
	if err != nil {
		return "", err
	}
	ts := c.CreatedAt.UTC()
	name := fmt.Sprintf("%s-%s-%s.md", Slug(c.Title), ts.Format("20060102T150405"), c.ShortID())
	return filepath.Join(dir, ts.Format("2006-01"), name), nil
}

// Writer persists terminal candidates under a rules root directory.
type Writer struct {
	root   string
	logger *zap.Logger
}

// NewWriter creates a writer rooted at root.
func NewWriter(root string, logger *zap.Logger) (*Writer, error) {
	if root == "" {
		return nil, fmt.Errorf("rules directory cannot be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Writer{root: root, logger: logger}, nil
}

// Root returns the rules root directory.
func (w *Writer) Root() string {
	return w.root
}

// StatusDir returns the absolute directory for a terminal state.
func (w *Writer) StatusDir(s State) (string, error) {
	dir, err := s.DirName()
	if err != nil {
		return "", err
	}
	return filepath.Join(w.root, dir), nil
}

// Write renders c and stores it under its state's directory. The file is
// written to a temp file in the target directory and renamed into place,
// so a failed write never leaves a partial rule file.
func (w *Writer) Write(c *Candidate) (string, error) {
	rel, err := RelPath(c)
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.root, rel)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating rule directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rule-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(Render(c)); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("writing rule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("closing rule file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("renaming rule file: %w", err)
	}

	w.logger.Debug("rule file written",
		zap.String("path", path),
		zap.String("rule_title", c.Title),
		zap.String("state", string(c.State)))

	return path, nil
}

// LoadedRule is a parsed rule file and where it was found.
type LoadedRule struct {
	Path string
	Rule *Candidate
}

// LoadDir walks dir for rule files and parses each one. Files that fail to
// parse are skipped and reported through the returned error count. A
// missing directory yields no rules.
func LoadDir(dir string) ([]LoadedRule, int, error) {
	var (
		loaded []LoadedRule
		failed int
	)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			failed++
			return nil
		}
		rule, err := Parse(string(data))
		if err != nil {
			failed++
			return nil
		}
		loaded = append(loaded, LoadedRule{Path: path, Rule: rule})
		return nil
	})
	if err != nil {
		return nil, failed, fmt.Errorf("walking rule directory %s: %w", dir, err)
	}

	return loaded, failed, nil
}
