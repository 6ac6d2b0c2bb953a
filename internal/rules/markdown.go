package rules

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Field labels of the rule file format. Other tooling extracts these by
// regex, so they must not change.
const (
	labelID           = "规则ID"
	labelCategory     = "规则类别"
	labelType         = "规则类型"
	labelSeverity     = "严重程度"
	labelConfidence   = "置信度"
	labelDatabaseType = "数据库类型"
	labelSQLPattern   = "SQL模式"
	labelSource       = "来源"
	labelCreatedAt    = "生成时间"

	labelBasicScore    = "基础评分"
	labelLLMScore      = "LLM评分"
	labelCombinedScore = "综合评分"
	labelQualityLevel  = "质量等级"

	labelAction = "审批结论"
	labelReason = "审批原因"

	sectionDescription = "规则描述"
	sectionCondition   = "触发条件"
	sectionExample     = "示例"
	sectionQuality     = "质量评估"
	sectionApproval    = "审批信息"
)

var (
	fieldLine   = regexp.MustCompile(`^\*\*(.+?)\*\*: ?(.*)$`)
	titleLine   = regexp.MustCompile(`^# (.+)$`)
	sectionLine = regexp.MustCompile(`^## (.+)$`)
)

// Render produces the markdown rule file for c.
func Render(c *Candidate) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	writeField(&b, labelID, c.ID)
	writeField(&b, labelCategory, string(c.Category))
	writeField(&b, labelType, c.Type)
	writeField(&b, labelSeverity, string(c.Severity))
	writeField(&b, labelConfidence, fmt.Sprintf("%.2f", c.Confidence))
	writeField(&b, labelDatabaseType, c.DatabaseType)
	writeField(&b, labelSQLPattern, "`"+c.SQLPattern+"`")
	writeField(&b, labelSource, string(c.Source))
	writeField(&b, labelCreatedAt, c.CreatedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "\n## %s\n\n%s\n", sectionDescription, c.Description)
	fmt.Fprintf(&b, "\n## %s\n\n%s\n", sectionCondition, c.Condition)
	fmt.Fprintf(&b, "\n## %s\n\n```sql\n%s\n```\n", sectionExample, c.Example)

	if e := c.Evaluation; e != nil {
		fmt.Fprintf(&b, "\n## %s\n\n", sectionQuality)
		writeField(&b, labelBasicScore, strconv.Itoa(e.BasicScore))
		writeField(&b, labelLLMScore, strconv.Itoa(e.LLMScore))
		writeField(&b, labelCombinedScore, strconv.Itoa(e.CombinedScore))
		writeField(&b, labelQualityLevel, string(e.QualityLevel))
	}

	if d := c.Approval; d != nil {
		fmt.Fprintf(&b, "\n## %s\n\n", sectionApproval)
		writeField(&b, labelAction, string(d.Action))
		writeField(&b, labelReason, d.Reason)
	}

	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "**%s**: %s\n", label, value)
}

// Parse reads a rule file produced by Render. Unknown labels and sections
// are ignored. Only the title is mandatory.
func Parse(content string) (*Candidate, error) {
	c := &Candidate{}
	fields := make(map[string]string)
	sections := make(map[string]*strings.Builder)

	var (
		current     *strings.Builder
		currentName string
	)
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		if m := titleLine.FindStringSubmatch(line); m != nil && c.Title == "" && current == nil {
			c.Title = strings.TrimSpace(m[1])
			continue
		}
		if m := sectionLine.FindStringSubmatch(line); m != nil {
			currentName = strings.TrimSpace(m[1])
			current = &strings.Builder{}
			sections[currentName] = current
			continue
		}
		if m := fieldLine.FindStringSubmatch(line); m != nil && holdsFields(currentName) {
			if _, seen := fields[m[1]]; !seen {
				fields[m[1]] = strings.TrimSpace(m[2])
			}
			continue
		}
		if current != nil {
			current.WriteString(line)
			current.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRuleFile, err)
	}
	if c.Title == "" {
		return nil, fmt.Errorf("%w: missing title", ErrMalformedRuleFile)
	}

	c.ID = fields[labelID]
	c.Category = Category(fields[labelCategory])
	c.Type = fields[labelType]
	c.Severity = Severity(fields[labelSeverity])
	c.DatabaseType = fields[labelDatabaseType]
	c.SQLPattern = strings.Trim(fields[labelSQLPattern], "`")
	c.Source = Source(fields[labelSource])

	if v := fields[labelConfidence]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: confidence %q", ErrMalformedRuleFile, v)
		}
		c.Confidence = f
	}
	if v := fields[labelCreatedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			c.CreatedAt = t
		}
	}

	c.Description = sectionText(sections, sectionDescription)
	c.Condition = sectionText(sections, sectionCondition)
	c.Example = stripFence(sectionText(sections, sectionExample))

	if _, ok := sections[sectionQuality]; ok {
		c.Evaluation = &Evaluation{
			BasicScore:    atoi(fields[labelBasicScore]),
			LLMScore:      atoi(fields[labelLLMScore]),
			CombinedScore: atoi(fields[labelCombinedScore]),
			QualityLevel:  QualityLevel(fields[labelQualityLevel]),
		}
	}
	if _, ok := sections[sectionApproval]; ok {
		c.Approval = &Decision{
			Action: Action(fields[labelAction]),
			Reason: fields[labelReason],
		}
	}

	return c, nil
}

// holdsFields reports whether labeled fields are read inside a section.
// Free-text sections keep such lines as text.
func holdsFields(section string) bool {
	return section == "" || section == sectionQuality || section == sectionApproval
}

func sectionText(sections map[string]*strings.Builder, name string) string {
	b, ok := sections[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(b.String())
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimRight(s, "\n "), "```")
	return strings.TrimSpace(s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
