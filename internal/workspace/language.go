package workspace

import (
	"path/filepath"
	"strings"
)

var languageByExtension = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".rb":   "ruby",
	".go":   "go",
	".php":  "php",
	".cs":   "csharp",
	".cpp":  "cpp",
	".c":    "c",
	".html": "html",
	".css":  "css",
}

// DetectLanguage maps a file path to a language identifier, or "" when the
// extension is not recognized.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return languageByExtension[ext]
}
