package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var created = time.Date(2024, 5, 1, 10, 30, 15, 0, time.UTC)

func sampleRule() *Candidate {
	return &Candidate{
		ID:           "3f2a9c1e-7b44-4d8e-9a51-0c6f3e2b1d77",
		Title:        "避免使用 SELECT * 查询所有列",
		Description:  "查询使用 SELECT * 会读取不需要的列，增加 I/O 和网络开销。",
		Category:     CategoryPerformance,
		Type:         "select_star",
		Severity:     SeverityMedium,
		Condition:    "SELECT 子句中出现 * 通配符",
		Example:      "SELECT id, name FROM users WHERE id = 1",
		Confidence:   0.85,
		SQLPattern:   "select * from users where id = {id}",
		DatabaseType: "mysql",
		Source:       SourceFallback,
		CreatedAt:    created,
		State:        StateGenerated,
	}
}

func TestCategoryAndSeverity_Valid(t *testing.T) {
	assert.True(t, CategorySecurity.Valid())
	assert.False(t, Category("style").Valid())
	assert.True(t, SeverityInfo.Valid())
	assert.False(t, Severity("urgent").Valid())
}

func TestKey(t *testing.T) {
	a := sampleRule()
	b := sampleRule()
	b.Title = "  " + strings.ToUpper(a.Title) + " "
	assert.Equal(t, a.Key(), b.Key())

	b.Type = "other"
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestNewCandidate(t *testing.T) {
	c := NewCandidate(SourceLLM, created)
	assert.Len(t, c.ID, 36)
	assert.Equal(t, StateGenerated, c.State)
	assert.Len(t, c.ShortID(), 8)
}

func TestTransition(t *testing.T) {
	c := sampleRule()

	require.NoError(t, c.Transition(StateValidated))
	require.NoError(t, c.Transition(StateEvaluated))
	require.NoError(t, c.Transition(StateApproved))
	assert.True(t, c.State.Terminal())

	err := c.Transition(StateManualReview)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	skip := sampleRule()
	assert.ErrorIs(t, skip.Transition(StateEvaluated), ErrInvalidTransition)
	assert.ErrorIs(t, skip.Transition(StateApproved), ErrInvalidTransition)
	assert.Equal(t, StateGenerated, skip.State)
}

func TestStateFor(t *testing.T) {
	s, err := StateFor(ActionReject)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, s)

	_, err = StateFor("maybe")
	assert.Error(t, err)

	dir, err := StateRejected.DirName()
	require.NoError(t, err)
	assert.Equal(t, "issues", dir)

	_, err = StateEvaluated.DirName()
	assert.ErrorIs(t, err, ErrNotTerminal)
}

func TestRender_Format(t *testing.T) {
	c := sampleRule()
	c.Evaluation = &Evaluation{BasicScore: 90, LLMScore: 80, CombinedScore: 83, QualityLevel: QualityGood}
	c.Approval = &Decision{Action: ActionApprove, Reason: "quality and confidence above threshold"}

	want := "# 避免使用 SELECT * 查询所有列\n" +
		"\n" +
		"**规则ID**: 3f2a9c1e-7b44-4d8e-9a51-0c6f3e2b1d77\n" +
		"**规则类别**: performance\n" +
		"**规则类型**: select_star\n" +
		"**严重程度**: medium\n" +
		"**置信度**: 0.85\n" +
		"**数据库类型**: mysql\n" +
		"**SQL模式**: `select * from users where id = {id}`\n" +
		"**来源**: fallback\n" +
		"**生成时间**: 2024-05-01T10:30:15Z\n" +
		"\n" +
		"## 规则描述\n" +
		"\n" +
		"查询使用 SELECT * 会读取不需要的列，增加 I/O 和网络开销。\n" +
		"\n" +
		"## 触发条件\n" +
		"\n" +
		"SELECT 子句中出现 * 通配符\n" +
		"\n" +
		"## 示例\n" +
		"\n" +
		"```sql\n" +
		"SELECT id, name FROM users WHERE id = 1\n" +
		"```\n" +
		"\n" +
		"## 质量评估\n" +
		"\n" +
		"**基础评分**: 90\n" +
		"**LLM评分**: 80\n" +
		"**综合评分**: 83\n" +
		"**质量等级**: good\n" +
		"\n" +
		"## 审批信息\n" +
		"\n" +
		"**审批结论**: approve\n" +
		"**审批原因**: quality and confidence above threshold\n"

	assert.Equal(t, want, Render(c))
}

func TestParse_ReadsRenderedFile(t *testing.T) {
	c := sampleRule()
	c.Description = "first line\n**not a field**: kept as text"
	c.Evaluation = &Evaluation{BasicScore: 90, LLMScore: 80, CombinedScore: 83, QualityLevel: QualityGood}
	c.Approval = &Decision{Action: ActionManualReview, Reason: "confidence below threshold"}

	got, err := Parse(Render(c))
	require.NoError(t, err)

	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Title, got.Title)
	assert.Equal(t, c.Description, got.Description)
	assert.Equal(t, c.Category, got.Category)
	assert.Equal(t, c.Type, got.Type)
	assert.Equal(t, c.Severity, got.Severity)
	assert.Equal(t, c.Condition, got.Condition)
	assert.Equal(t, c.Example, got.Example)
	assert.InDelta(t, c.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, c.SQLPattern, got.SQLPattern)
	assert.Equal(t, c.Source, got.Source)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.Evaluation)
	assert.Equal(t, 83, got.Evaluation.CombinedScore)
	require.NotNil(t, got.Approval)
	assert.Equal(t, ActionManualReview, got.Approval.Action)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("no title here\n**规则类别**: security\n")
	assert.ErrorIs(t, err, ErrMalformedRuleFile)

	_, err = Parse("# t\n**置信度**: lots\n")
	assert.ErrorIs(t, err, ErrMalformedRuleFile)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Avoid SELECT * in queries", "avoid-select-in-queries"},
		{"避免使用 SELECT * 查询所有列", "避免使用-select-查询所有列"},
		{"  --  ", "rule"},
		{"", "rule"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.title), "title %q", tt.title)
	}
}

func TestRelPath(t *testing.T) {
	c := sampleRule()
	_, err := RelPath(c)
	assert.ErrorIs(t, err, ErrNotTerminal)

	c.State = StateManualReview
	p, err := RelPath(c)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("manual_review", "2024-05", "避免使用-select-查询所有列-20240501T103015-3f2a9c1e.md"), p)
}

func TestWriter_WriteAndLoadDir(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	approved := sampleRule()
	approved.State = StateApproved
	path, err := w.Write(approved)
	require.NoError(t, err)
	assert.FileExists(t, path)

	rejected := sampleRule()
	rejected.ID = "aaaaaaaa-0000-0000-0000-000000000000"
	rejected.State = StateRejected
	_, err = w.Write(rejected)
	require.NoError(t, err)

	// Unparseable and temp files are not rules.
	approvedDir, err := w.StatusDir(StateApproved)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(approvedDir, "junk.md"), []byte("no heading"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(approvedDir, ".rule-1.tmp"), []byte("# x"), 0o644))

	loaded, failed, err := LoadDir(approvedDir)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	require.Len(t, loaded, 1)
	assert.Equal(t, approved.ID, loaded[0].Rule.ID)
	assert.Equal(t, path, loaded[0].Path)

	all, _, err := LoadDir(root)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWriter_RejectsNonTerminal(t *testing.T) {
	w, err := NewWriter(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = w.Write(sampleRule())
	assert.ErrorIs(t, err, ErrNotTerminal)
}

func TestLoadDir_Missing(t *testing.T) {
	loaded, failed, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Empty(t, loaded)
}
