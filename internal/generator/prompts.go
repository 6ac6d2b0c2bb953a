package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rulelearn/internal/history"
)

const ruleSchema = `{
  "rules": [
    {
      "title": "short imperative rule title",
      "description": "what the rule checks and why it matters",
      "category": "performance | security | standards",
      "type": "snake_case rule type, e.g. select_star",
      "severity": "critical | high | medium | low | info",
      "condition": "when the rule triggers, precise enough to check mechanically",
      "example": "a SQL statement that follows the rule",
      "confidence": 0.0
    }
  ]
}`

// buildPrompt renders the primary rule-generation prompt.
func buildPrompt(lc history.LearningContext, maxRules int) string {
	var b strings.Builder

	b.WriteString("You are a SQL audit rule author. From the analysis below, write reusable audit rules ")
	b.WriteString("that would have caught the reported problems in any similar query.\n\n")

	writeQuery(&b, lc)
	writeDimensions(&b, lc)

	fmt.Fprintf(&b, "Write at most %d rules. Each rule must be general (not tied to this table or column), ", maxRules)
	b.WriteString("checkable from the SQL text alone, and include a corrected SQL example.\n")
	b.WriteString("confidence is your certainty in [0,1] that the rule is correct and useful.\n\n")
	b.WriteString("Respond with JSON only, in this shape:\n")
	b.WriteString(ruleSchema)
	b.WriteString("\n")

	return b.String()
}

// buildDeepPrompt renders the broader second attempt. It adds the similar
// historical records so the model can generalize across them.
func buildDeepPrompt(lc history.LearningContext, maxRules int) string {
	var b strings.Builder

	b.WriteString("You are reviewing a recurring SQL problem across several historical analyses. ")
	b.WriteString("Identify the underlying anti-patterns and turn each into an audit rule.\n\n")

	writeQuery(&b, lc)
	writeDimensions(&b, lc)

	if len(lc.SimilarRecords) > 0 {
		b.WriteString("## Similar historical queries\n\n")
		for i, r := range lc.SimilarRecords {
			fmt.Fprintf(&b, "%d. %s\n", i+1, oneLine(r.SQL))
			for _, d := range history.Dimensions {
				for _, issue := range r.IssuesFor(d) {
					fmt.Fprintf(&b, "   - [%s/%s] %s: %s\n", d, issue.Severity, issue.Type, oneLine(issue.Description))
				}
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Think about what these queries have in common before writing rules. ")
	fmt.Fprintf(&b, "Return between 1 and %d rules. Prefer fewer, more general rules over many narrow ones.\n\n", maxRules)
	b.WriteString("Respond with JSON only. No prose, no markdown. Use this shape:\n")
	b.WriteString(ruleSchema)
	b.WriteString("\n")

	return b.String()
}

func writeQuery(b *strings.Builder, lc history.LearningContext) {
	b.WriteString("## Query\n\n")
	dbType := lc.DatabaseType
	if dbType == "" {
		dbType = "unknown"
	}
	fmt.Fprintf(b, "Database: %s\n", dbType)
	fmt.Fprintf(b, "SQL:\n```sql\n%s\n```\n", strings.TrimSpace(lc.SQL))
	if lc.SQLPattern != "" {
		fmt.Fprintf(b, "Normalized pattern: %s\n", lc.SQLPattern)
	}
	b.WriteString("\n")
}

func writeDimensions(b *strings.Builder, lc history.LearningContext) {
	sections := []struct {
		dim    history.Dimension
		issues []history.Issue
	}{
		{history.DimensionPerformance, lc.Patterns.Performance},
		{history.DimensionSecurity, lc.Patterns.Security},
		{history.DimensionStandards, lc.Patterns.Standards},
	}

	for _, s := range sections {
		summary := lc.Summaries[string(s.dim)]
		if summary == "" && len(s.issues) == 0 {
			continue
		}
		fmt.Fprintf(b, "## %s analysis\n\n", s.dim)
		if summary != "" {
			fmt.Fprintf(b, "Summary: %s\n", summary)
		}
		if len(s.issues) > 0 {
			data, err := json.MarshalIndent(s.issues, "", "  ")
			if err == nil {
				fmt.Fprintf(b, "Issues:\n%s\n", data)
			}
		}
		b.WriteString("\n")
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
