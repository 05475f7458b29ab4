package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codealloy/alloy-api/internal/models"
)

var instructions = map[models.TransformationType]string{
	models.TransformRefactor:    "Refactor this code to improve readability and maintainability. Follow clean code principles.",
	models.TransformOptimize:    "Optimize this code for better performance. Focus on algorithmic improvements and efficiency.",
	models.TransformPrune:       "Remove any unused or redundant code. Eliminate dead code, unused imports, and unnecessary comments.",
	models.TransformMerge:       "Consolidate related functionality. Combine similar functions and reduce duplication.",
	models.TransformModernize:   "Update this code to use modern language features and patterns.",
	models.TransformFixSecurity: "Fix potential security vulnerabilities in this code. Focus on common security issues.",
}

// Instruction returns the task text for a transformation type.
func Instruction(t models.TransformationType) string {
	return instructions[t]
}

// Build renders the full prompt for one file transformation. Patterns, when
// present, are appended as known-good guidance retrieved for the language
// and transformation type.
func Build(language, filePath string, t models.TransformationType, code string, patterns []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an expert %s developer tasked with improving code quality.\n\n", language)
	fmt.Fprintf(&b, "TASK: %s\n\n", Instruction(t))
	fmt.Fprintf(&b, "FILE PATH: %s\n\n", filePath)
	fmt.Fprintf(&b, "ORIGINAL CODE:\n```%s\n%s\n```\n\n", language, code)

	if len(patterns) > 0 {
		b.WriteString("KNOWN GOOD PATTERNS:\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. Maintain the exact same functionality and behavior\n")
	b.WriteString("2. Keep the same code style and formatting conventions\n")
	b.WriteString("3. Preserve all comments that are still relevant\n")
	b.WriteString("4. Provide a brief summary of the changes made\n")
	b.WriteString("5. Return the complete transformed code\n\n")
	b.WriteString("OUTPUT FORMAT:\n")
	b.WriteString("First provide a summary line starting with \"SUMMARY:\" describing the changes.\n")
	b.WriteString("Then provide the complete transformed code in a code block with triple backticks.\n")

	return b.String()
}

var (
	codeBlockRe = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+-]*)\\n(.*?)```")
	summaryRe   = regexp.MustCompile(`(?s)SUMMARY:\s*(.+?)\s*(?:\n\s*\n|` + "```" + `|$)`)
)

// Parse extracts the transformed code and the change summary from a model
// response. ok is false when no non-empty code block can be found, which
// callers treat as an unusable response.
func Parse(response string) (code, summary string, ok bool) {
	m := codeBlockRe.FindStringSubmatch(response)
	if m == nil {
		return "", "", false
	}
	code = strings.TrimRight(m[1], "\n")
	if strings.TrimSpace(code) == "" {
		return "", "", false
	}

	if sm := summaryRe.FindStringSubmatch(response); sm != nil {
		summary = strings.TrimSpace(strings.ReplaceAll(sm[1], "\n", " "))
	}
	return code, summary, true
}
