package evaluation

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rulelearn/internal/history"
	"github.com/fyrsmithlabs/rulelearn/internal/rules"
)

// RubricDimensions are the axes the model grades on.
var RubricDimensions = []string{"accuracy", "completeness", "practicality", "generality", "consistency"}

func buildRubricPrompt(c *rules.Candidate, lc history.LearningContext) string {
	var b strings.Builder

	b.WriteString("You are reviewing a proposed SQL audit rule before it is published. ")
	b.WriteString("Grade it strictly; a rule that is wrong or too narrow does more harm than no rule.\n\n")

	b.WriteString("## Rule\n\n")
	fmt.Fprintf(&b, "Title: %s\n", c.Title)
	fmt.Fprintf(&b, "Category: %s\n", c.Category)
	fmt.Fprintf(&b, "Type: %s\n", c.Type)
	fmt.Fprintf(&b, "Severity: %s\n", c.Severity)
	fmt.Fprintf(&b, "Confidence: %.2f\n", c.Confidence)
	fmt.Fprintf(&b, "Description: %s\n", c.Description)
	fmt.Fprintf(&b, "Condition: %s\n", c.Condition)
	fmt.Fprintf(&b, "Example:\n```sql\n%s\n```\n\n", c.Example)

	if sql := strings.TrimSpace(lc.SQL); sql != "" {
		b.WriteString("## Source query\n\n")
		fmt.Fprintf(&b, "```sql\n%s\n```\n", sql)
		if n := lc.IssueCount(); n > 0 {
			fmt.Fprintf(&b, "The analysis of this query reported %d issue(s).\n", n)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Rubric\n\n")
	b.WriteString("Score each dimension from 0 to 100:\n")
	for _, d := range RubricDimensions {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	b.WriteString("\nThe overall score is your judgement across all dimensions, not a strict average.\n")
	b.WriteString("qualityLevel is one of excellent, good, fair, poor. ")
	b.WriteString("shouldKeep is false when the rule should not be published at all.\n\n")

	b.WriteString("Respond with JSON only, in this shape:\n")
	b.WriteString(`{"score": 0, "qualityLevel": "fair", "shouldKeep": true, `)
	b.WriteString(`"dimensionScores": {"accuracy": 0, "completeness": 0, "practicality": 0, "generality": 0, "consistency": 0}, `)
	b.WriteString(`"strengths": ["..."], "issues": ["..."]}`)
	b.WriteString("\n")

	return b.String()
}
