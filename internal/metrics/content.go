package metrics

import (
	"strings"

	"github.com/codealloy/alloy-api/internal/models"
)

// CollectBasicMetrics measures one version of a file's content.
func CollectBasicMetrics(content string) models.BasicMetrics {
	lines := strings.Split(content, "\n")
	nonEmpty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonEmpty++
		}
	}
	m := models.BasicMetrics{
		TotalLines:    len(lines),
		NonEmptyLines: nonEmpty,
		Characters:    len(content),
	}
	if m.TotalLines > 0 {
		m.AverageLineLength = float64(m.Characters) / float64(m.TotalLines)
	}
	return m
}

// CompareContent computes the delta between original and transformed content.
func CompareContent(original, transformed string) *models.ChangeMetrics {
	before := CollectBasicMetrics(original)
	after := CollectBasicMetrics(transformed)

	cm := &models.ChangeMetrics{
		Before:    before,
		After:     after,
		IsSmaller: after.Characters < before.Characters,
	}
	if before.TotalLines > 0 {
		cm.LineCountChangePercentage = float64(after.TotalLines-before.TotalLines) / float64(before.TotalLines) * 100
	}
	if before.Characters > 0 {
		cm.CharacterCountChangePercentage = float64(after.Characters-before.Characters) / float64(before.Characters) * 100
	}
	return cm
}
