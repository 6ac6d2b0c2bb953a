package generator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/rulelearn/internal/history"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
)

// Fallback confidence bounds. Fallback rules always score below what a
// confident model can produce.
const (
	minFallbackConfidence = 0.5
	maxFallbackConfidence = 0.7
	genericConfidence     = 0.5
)

// template is a known issue signature with a fixed rule body.
type template struct {
	typ         string
	category    rules.Category
	severity    rules.Severity
	title       string
	description string
	condition   string
	example     string
	confidence  float64

	// issueTerms match against an issue's type and description.
	issueTerms []string
	// sqlMatch, when set, matches the raw SQL.
	sqlMatch *regexp.Regexp
}

var (
	selectStarSQL      = regexp.MustCompile(`(?i)\bselect\s+(?:distinct\s+)?\*`)
	leadingWildcardSQL = regexp.MustCompile(`(?i)\blike\s+'%`)
	concatSQL          = regexp.MustCompile(`(?i)('\s*\+|\+\s*'|'\s*\|\||\|\|\s*'|\bconcat\s*\()`)
	updateDeleteSQL    = regexp.MustCompile(`(?i)^\s*(update|delete)\b`)
	whereClauseSQL     = regexp.MustCompile(`(?i)\bwhere\b`)
)

var templates = []template{
	{
		typ:         "sql_injection",
		category:    rules.CategorySecurity,
		severity:    rules.SeverityCritical,
		title:       "禁止通过字符串拼接构造 SQL 语句",
		description: "SQL 参数通过字符串拼接传入时，攻击者可以注入任意 SQL 片段，必须改用参数化查询或预编译语句。",
		condition:   "SQL 语句中的条件值由字符串拼接生成，而不是通过占位符绑定",
		example:     "SELECT id, name FROM users WHERE name = ?",
		confidence:  0.7,
		issueTerms:  []string{"injection", "concatenat", "拼接", "注入"},
		sqlMatch:    concatSQL,
	},
	{
		typ:         "select_star",
		category:    rules.CategoryPerformance,
		severity:    rules.SeverityMedium,
		title:       "避免使用 SELECT * 查询所有列",
		description: "SELECT * 会读取不需要的列，增加磁盘 I/O 和网络传输，并且在表结构变化时容易引发问题，应显式列出需要的列。",
		condition:   "SELECT 子句使用 * 通配符而不是显式列名",
		example:     "SELECT id, name, email FROM users WHERE id = 1",
		confidence:  0.7,
		issueTerms:  []string{"select_star", "select *", "all columns", "所有列"},
		sqlMatch:    selectStarSQL,
	},
	{
		typ:         "missing_index",
		category:    rules.CategoryPerformance,
		severity:    rules.SeverityHigh,
		title:       "为过滤和关联条件列建立合适的索引",
		description: "WHERE、JOIN 或 ORDER BY 使用的列缺少索引时，数据库只能全表扫描，数据量增长后查询会明显变慢。",
		condition:   "查询条件、关联条件或排序列上没有可用索引，执行计划出现全表扫描",
		example:     "CREATE INDEX idx_orders_user_id ON orders (user_id)",
		confidence:  0.65,
		issueTerms:  []string{"index", "full table scan", "full scan", "索引", "全表扫描"},
	},
	{
		typ:         "leading_wildcard_like",
		category:    rules.CategoryPerformance,
		severity:    rules.SeverityMedium,
		title:       "避免以通配符开头的 LIKE 模糊查询",
		description: "LIKE 模式以 % 开头时无法使用 B-Tree 索引，会退化为全表扫描，应改用前缀匹配或全文索引。",
		condition:   "LIKE 条件的模式字符串以 % 或 _ 通配符开头",
		example:     "SELECT id, name FROM products WHERE name LIKE 'phone%'",
		confidence:  0.6,
		issueTerms:  []string{"wildcard", "leading %", "like '%", "前导通配符"},
		sqlMatch:    leadingWildcardSQL,
	},
	{
		typ:         "missing_where",
		category:    rules.CategoryStandards,
		severity:    rules.SeverityHigh,
		title:       "UPDATE 和 DELETE 语句必须带 WHERE 条件",
		description: "没有 WHERE 条件的 UPDATE 或 DELETE 会修改整张表的数据，误操作后难以恢复，必须显式限定影响范围。",
		condition:   "UPDATE 或 DELETE 语句中没有 WHERE 子句",
		example:     "UPDATE accounts SET status = 'inactive' WHERE last_login < '2023-01-01'",
		confidence:  0.65,
		issueTerms:  []string{"missing_where", "without where", "no where", "缺少 where"},
	},
}

func (t template) matchesIssue(issue history.Issue) bool {
	text := strings.ToLower(issue.Type + " " + issue.Description)
	for _, term := range t.issueTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func (t template) matchesSQL(sql string) bool {
	if t.typ == "missing_where" {
		return updateDeleteSQL.MatchString(sql) && !whereClauseSQL.MatchString(sql)
	}
	return t.sqlMatch != nil && t.sqlMatch.MatchString(sql)
}

// fallbackRules builds rules from fixed templates. Templates fire when an
// issue or the SQL itself matches their signature. Issues no template
// covers get a generic rule. Output never exceeds maxRules.
func (g *Generator) fallbackRules(lc history.LearningContext, maxRules int) []*rules.Candidate {
	var out []*rules.Candidate
	covered := make(map[int]bool)

	type indexed struct {
		dim   history.Dimension
		issue history.Issue
	}
	var issues []indexed
	for _, d := range history.Dimensions {
		for _, issue := range issuesOf(lc, d) {
			issues = append(issues, indexed{d, issue})
		}
	}

	for _, t := range templates {
		hit := t.matchesSQL(lc.SQL)
		for i, is := range issues {
			if t.matchesIssue(is.issue) {
				hit = true
				covered[i] = true
			}
		}
		if !hit {
			continue
		}
		out = append(out, g.fromTemplate(t, lc))
	}

	for i, is := range issues {
		if covered[i] {
			continue
		}
		if r := g.genericRule(is.dim, is.issue, lc); r != nil {
			out = append(out, r)
		}
	}

	out = dedupeBatch(out)
	if len(out) > maxRules {
		out = out[:maxRules]
	}
	return out
}

func (g *Generator) fromTemplate(t template, lc history.LearningContext) *rules.Candidate {
	c := rules.NewCandidate(rules.SourceFallback, g.now())
	c.Title = t.title
	c.Description = t.description
	c.Category = t.category
	c.Type = t.typ
	c.Severity = t.severity
	c.Condition = t.condition
	c.Example = t.example
	c.Confidence = clamp(t.confidence, minFallbackConfidence, maxFallbackConfidence)
	c.SQLPattern = lc.SQLPattern
	c.DatabaseType = lc.DatabaseType
	return c
}

var categoryLabels = map[history.Dimension]string{
	history.DimensionPerformance: "性能",
	history.DimensionSecurity:    "安全",
	history.DimensionStandards:   "规范",
}

func (g *Generator) genericRule(d history.Dimension, issue history.Issue, lc history.LearningContext) *rules.Candidate {
	typ := strings.TrimSpace(issue.Type)
	if typ == "" {
		return nil
	}

	severity := rules.Severity(strings.ToLower(strings.TrimSpace(issue.Severity)))
	if !severity.Valid() {
		severity = rules.SeverityMedium
	}

	desc := strings.TrimSpace(issue.Description)
	if s := strings.TrimSpace(issue.Suggestion); s != "" {
		desc = strings.TrimSpace(desc + " 建议：" + s)
	}
	if desc == "" {
		desc = fmt.Sprintf("历史分析中反复出现的%s问题：%s", categoryLabels[d], typ)
	}

	condition := strings.TrimSpace(issue.Description)
	if condition == "" {
		condition = fmt.Sprintf("SQL 语句出现 %s 类型的%s问题", typ, categoryLabels[d])
	}

	c := rules.NewCandidate(rules.SourceFallback, g.now())
	c.Title = fmt.Sprintf("检查%s问题：%s", categoryLabels[d], typ)
	c.Description = desc
	c.Category = rules.Category(d)
	c.Type = typ
	c.Severity = severity
	c.Condition = condition
	c.Example = strings.TrimSpace(lc.SQL)
	c.Confidence = genericConfidence
	c.SQLPattern = lc.SQLPattern
	c.DatabaseType = lc.DatabaseType
	return c
}

func issuesOf(lc history.LearningContext, d history.Dimension) []history.Issue {
	switch d {
	case history.DimensionPerformance:
		return lc.Patterns.Performance
	case history.DimensionSecurity:
		return lc.Patterns.Security
	case history.DimensionStandards:
		return lc.Patterns.Standards
	}
	return nil
}
