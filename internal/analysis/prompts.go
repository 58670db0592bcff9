package analysis

import (
	"bytes"
	"fmt"
	"text/template"
)

// Generation operation names. They label requests in logs and select canned
// responses in tests.
const (
	OpContentPatterns  = "content_patterns"
	OpExecutiveSummary = "executive_summary"
	OpTopicOutline     = "topic_outline"
	OpTopicDetails     = "topic_details"
)

var prompts = template.Must(template.New("prompts").Parse(`
{{define "content_patterns"}}You are analysing {{.Count}} high-performing social media posts, each at or above an engagement rate of {{printf "%.4f" .Threshold}}.
Identify the content patterns they share: formats, hooks, subjects, tone.
Return JSON of the form {"patterns": ["..."]} with at most {{.MaxPatterns}} concise patterns, most important first.{{end}}

{{define "executive_summary"}}Write an executive summary of an engagement analysis covering {{.ItemCount}} posts{{if .Platforms}} from {{.Platforms}}{{end}}.
Use the statistics, content patterns and posting-time findings in the context. Keep it under {{.MaxWords}} words and make it actionable.
Return JSON of the form {"summary": "..."}.{{end}}

{{define "topic_outline"}}Based on the analysis in the context, propose up to {{.MaxTopics}} new content topics likely to perform as well as the high performers.
Give each topic a short title and the angle that connects it to the observed patterns.
Return JSON of the form {"topics": [{"title": "...", "angle": "..."}]}.{{end}}

{{define "topic_details"}}Write detailed content briefs for the {{.Count}} topics listed in the context under "topics".
For every topic keep its "index", restate its title, write a body of two or three paragraphs and up to three opening hooks.
Return JSON of the form {"details": [{"index": 0, "title": "...", "body": "...", "hooks": ["..."]}]}.{{end}}
`))

func renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}
