package dedup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/rulelearn/internal/rules"
)

func rule(title, desc string, cat rules.Category) *rules.Candidate {
	c := rules.NewCandidate(rules.SourceLLM, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	c.Title = title
	c.Description = desc
	c.Category = cat
	c.Type = "select_star"
	c.Severity = rules.SeverityMedium
	c.Condition = "SELECT list contains a bare *"
	c.Example = "SELECT id FROM users"
	c.Confidence = 0.8
	c.SQLPattern = "select * from users where id = {id}"
	c.State = rules.StateApproved
	return c
}

// seed writes rules into root/approved and returns that directory.
func seed(t *testing.T, root string, cs ...*rules.Candidate) string {
	t.Helper()
	w, err := rules.NewWriter(root, zap.NewNop())
	require.NoError(t, err)
	for _, c := range cs {
		_, err := w.Write(c)
		require.NoError(t, err)
	}
	dir, err := w.StatusDir(rules.StateApproved)
	require.NoError(t, err)
	return dir
}

func newDetector(t *testing.T, opts ...Option) *Detector {
	t.Helper()
	d, err := New(zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return d
}

const (
	starTitle = "Avoid SELECT * in production queries"
	starDesc  = "Selecting every column wastes I/O and breaks callers when the schema changes."
)

func TestCheck_IdenticalRuleIsExact(t *testing.T) {
	dir := seed(t, t.TempDir(), rule(starTitle, starDesc, rules.CategoryPerformance))

	res := newDetector(t).Check(rule(starTitle, starDesc, rules.CategoryPerformance), dir)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, TypeExact, res.Type)
	assert.InDelta(t, 1.0, res.Similarity, 1e-9)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, starTitle, res.Matches[0].Title)
	assert.True(t, res.Matches[0].Exact)
}

func TestCheck_ExactTitleAloneIsExact(t *testing.T) {
	dir := seed(t, t.TempDir(), rule(starTitle, starDesc, rules.CategoryPerformance))

	c := rule("avoid select * in production queries ", "A completely different explanation of the issue at hand.", rules.CategoryPerformance)
	res := newDetector(t).Check(c, dir)
	assert.Equal(t, TypeExact, res.Type)
}

func TestCheck_OtherCategoryIgnored(t *testing.T) {
	dir := seed(t, t.TempDir(), rule(starTitle, starDesc, rules.CategoryPerformance))

	res := newDetector(t).Check(rule(starTitle, starDesc, rules.CategorySecurity), dir)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, TypeNone, res.Type)
	assert.Empty(t, res.Matches)
}

func TestCheck_HighSimilarity(t *testing.T) {
	dir := seed(t, t.TempDir(), rule(starTitle, starDesc, rules.CategoryPerformance))

	c := rule("Avoid SELECT * in production query", "Selecting every column wastes I/O and breaks callers when schemas change.", rules.CategoryPerformance)
	res := newDetector(t).Check(c, dir)

	assert.Equal(t, TypeHighSimilarity, res.Type)
	assert.True(t, res.IsDuplicate)
	assert.GreaterOrEqual(t, res.Similarity, DefaultHighSimilarity)
	assert.Less(t, res.Similarity, 1.0)
}

func TestCheck_WarnBandDoesNotBlock(t *testing.T) {
	dir := seed(t, t.TempDir(), rule(starTitle, starDesc, rules.CategoryPerformance))

	c := rule("Avoid SELECT * in reporting jobs", "Reading all columns in reports costs memory and network for no benefit.", rules.CategoryPerformance)
	d := newDetector(t, WithThresholds(0.95, 0.4))
	res := d.Check(c, dir)

	assert.False(t, res.IsDuplicate)
	assert.Equal(t, TypeNone, res.Type)
	require.Len(t, res.Matches, 1)
	assert.Less(t, res.Matches[0].Similarity, 0.95)
}

func TestCheck_MissingCorpus(t *testing.T) {
	res := newDetector(t).Check(rule(starTitle, starDesc, rules.CategoryPerformance), filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, TypeNone, res.Type)
}

func TestCheck_CacheAndAdd(t *testing.T) {
	root := t.TempDir()
	dir := seed(t, root)
	d := newDetector(t)

	first := rule(starTitle, starDesc, rules.CategoryPerformance)
	assert.False(t, d.Check(first, dir).IsDuplicate)

	// Written behind the detector's back: not visible until the cache is cleared.
	seed(t, root, first)
	second := rule(starTitle, starDesc, rules.CategoryPerformance)
	assert.False(t, d.Check(second, dir).IsDuplicate)

	d.ClearCache()
	assert.True(t, d.Check(second, dir).IsDuplicate)

	third := rule("Qualify joined column names", "Unqualified columns become ambiguous once another join is added to the query.", rules.CategoryStandards)
	d.Add(dir, "", third)
	fourth := rule("Qualify joined column names", "Unqualified columns become ambiguous once another join is added to the query.", rules.CategoryStandards)
	assert.Equal(t, TypeExact, d.Check(fourth, dir).Type)
}

func TestCheck_SkipsSelf(t *testing.T) {
	c := rule(starTitle, starDesc, rules.CategoryPerformance)
	dir := seed(t, t.TempDir(), c)
	assert.False(t, newDetector(t).Check(c, dir).IsDuplicate)
}

func TestCheck_UnreadableFilesSkipped(t *testing.T) {
	dir := seed(t, t.TempDir(), rule(starTitle, starDesc, rules.CategoryPerformance))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("no title here"), 0o644))

	res := newDetector(t).Check(rule(starTitle, starDesc, rules.CategoryPerformance), dir)
	assert.Equal(t, TypeExact, res.Type)
}

func TestSimilarity(t *testing.T) {
	a := rule(starTitle, starDesc, rules.CategoryPerformance)
	assert.InDelta(t, 1.0, Similarity(a, a), 1e-9)

	b := rule(starTitle, starDesc, rules.CategoryPerformance)
	b.Severity = rules.SeverityHigh
	assert.InDelta(t, 0.9, Similarity(a, b), 1e-9)

	c := rule(starTitle, "", rules.CategoryPerformance)
	c.SQLPattern = ""
	c.Severity = ""
	assert.InDelta(t, 1.0, Similarity(a, c), 1e-9, "only the title is compared")

	assert.Zero(t, Similarity(&rules.Candidate{}, a))
	assert.InDelta(t, Similarity(a, b), Similarity(b, a), 1e-12)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(zap.NewNop(), WithThresholds(0.5, 0.7))
	assert.Error(t, err)
}
