// Package dedup finds published rules that a candidate would duplicate.
//
// The corpus is the set of rule files under a directory. It is loaded
// lazily on the first check against that directory and grouped by
// category, so a rule is only ever compared with rules of its own
// category. ClearCache forces the next check to reload from disk.
package dedup

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulelearn/internal/rules"
	"github.com/fyrsmithlabs/rulelearn/internal/similarity"
)

// Component weights of the rule similarity.
const (
	TitleWeight       = 0.4
	DescriptionWeight = 0.3
	PatternWeight     = 0.2
	SeverityWeight    = 0.1
)

// Default thresholds.
const (
	DefaultHighSimilarity = 0.8
	DefaultWarnSimilarity = 0.6

	exactEpsilon = 1e-9
)

// Type classifies a duplicate check.
type Type string

const (
	TypeExact          Type = "exact"
	TypeHighSimilarity Type = "high_similarity"
	TypeNone           Type = "none"
)

// Match is one corpus rule similar to the candidate.
type Match struct {
	Path       string  `json:"path,omitempty"`
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
	Exact      bool    `json:"exact,omitempty"`
}

// Result is the outcome of a duplicate check. IsDuplicate holds for exact
// and high-similarity matches. Matches between the warn and high
// thresholds are reported without blocking.
type Result struct {
	IsDuplicate bool    `json:"isDuplicate"`
	Similarity  float64 `json:"similarity"`
	Type        Type    `json:"duplicateType"`
	Matches     []Match `json:"matchedRules,omitempty"`
}

type corpus map[rules.Category][]rules.LoadedRule

// Detector checks candidates against rule corpora.
type Detector struct {
	logger *zap.Logger
	high   float64
	warn   float64

	mu    sync.Mutex
	cache map[string]corpus
}

// Option configures a Detector.
type Option func(*Detector)

// WithThresholds overrides the high-similarity and warn thresholds.
func WithThresholds(high, warn float64) Option {
	return func(d *Detector) {
		d.high = high
		d.warn = warn
	}
}

// New creates a detector.
func New(logger *zap.Logger, opts ...Option) (*Detector, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	d := &Detector{
		logger: logger,
		high:   DefaultHighSimilarity,
		warn:   DefaultWarnSimilarity,
		cache:  make(map[string]corpus),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.warn <= 0 || d.high > 1 || d.warn > d.high {
		return nil, fmt.Errorf("invalid duplicate thresholds: warn %.2f, high %.2f", d.warn, d.high)
	}
	return d, nil
}

// Check compares c with every rule of the same category under corpusDir.
// A corpus that cannot be read is logged and treated as empty.
func (d *Detector) Check(c *rules.Candidate, corpusDir string) Result {
	res := Result{Type: TypeNone}

	for _, existing := range d.category(corpusDir, c.Category) {
		if existing.Rule.ID != "" && existing.Rule.ID == c.ID {
			continue
		}

		sim := Similarity(c, existing.Rule)
		exact := sim >= 1-exactEpsilon || sameText(c.Title, existing.Rule.Title) || sameText(c.Description, existing.Rule.Description)
		if exact {
			sim = 1
		}
		if sim < d.warn {
			continue
		}

		res.Matches = append(res.Matches, Match{
			Path:       existing.Path,
			ID:         existing.Rule.ID,
			Title:      existing.Rule.Title,
			Similarity: sim,
			Exact:      exact,
		})
	}

	sort.SliceStable(res.Matches, func(i, j int) bool {
		return res.Matches[i].Similarity > res.Matches[j].Similarity
	})

	if len(res.Matches) == 0 {
		return res
	}

	best := res.Matches[0]
	res.Similarity = best.Similarity
	switch {
	case best.Exact:
		res.Type = TypeExact
		res.IsDuplicate = true
	case best.Similarity >= d.high:
		res.Type = TypeHighSimilarity
		res.IsDuplicate = true
	default:
		d.logger.Warn("similar rule already exists",
			zap.String("rule_title", c.Title),
			zap.String("matched_title", best.Title),
			zap.Float64("similarity", best.Similarity))
	}
	return res
}

// Add records c in the cached corpus for corpusDir, so later checks in
// this process see it without a reload. It is a no-op when the corpus has
// not been loaded yet.
func (d *Detector) Add(corpusDir, path string, c *rules.Candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp, ok := d.cache[corpusDir]
	if !ok {
		return
	}
	cp[c.Category] = append(cp[c.Category], rules.LoadedRule{Path: path, Rule: c})
}

// ClearCache drops every loaded corpus.
func (d *Detector) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]corpus)
}

func (d *Detector) category(dir string, cat rules.Category) []rules.LoadedRule {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp, ok := d.cache[dir]
	if !ok {
		cp = d.load(dir)
		d.cache[dir] = cp
	}
	return append([]rules.LoadedRule(nil), cp[cat]...)
}

func (d *Detector) load(dir string) corpus {
	cp := make(corpus)

	loaded, failed, err := rules.LoadDir(dir)
	if err != nil {
		d.logger.Warn("failed to load rule corpus",
			zap.String("dir", dir),
			zap.Error(err))
		return cp
	}
	if failed > 0 {
		d.logger.Warn("skipped unreadable rule files",
			zap.String("dir", dir),
			zap.Int("count", failed))
	}

	for _, lr := range loaded {
		cp[lr.Rule.Category] = append(cp[lr.Rule.Category], lr)
	}
	d.logger.Debug("loaded rule corpus",
		zap.String("dir", dir),
		zap.Int("rules", len(loaded)))
	return cp
}

// Similarity is the weighted similarity of two rules in [0,1]. Components
// missing on either side are dropped and the remaining weights rescaled.
func Similarity(a, b *rules.Candidate) float64 {
	var sum, weight float64

	add := func(w, score float64) {
		sum += w * score
		weight += w
	}

	if present(a.Title, b.Title) {
		add(TitleWeight, similarity.Levenshtein(a.Title, b.Title))
	}
	if present(a.Description, b.Description) {
		add(DescriptionWeight, similarity.Levenshtein(a.Description, b.Description))
	}
	if present(a.SQLPattern, b.SQLPattern) {
		add(PatternWeight, boolScore(strings.TrimSpace(a.SQLPattern) == strings.TrimSpace(b.SQLPattern)))
	}
	if present(string(a.Severity), string(b.Severity)) {
		add(SeverityWeight, boolScore(a.Severity == b.Severity))
	}

	if weight == 0 {
		return 0
	}
	return sum / weight
}

func present(a, b string) bool {
	return strings.TrimSpace(a) != "" && strings.TrimSpace(b) != ""
}

func sameText(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
