package handlers

import (
	"path"
	"strings"
)

// Size caps for the inline read surfaces. Files strictly over the cap are
// rejected with 413.
const (
	PreviewMaxBytes = 200 * 1024
	EditMaxBytes    = 1024 * 1024
)

// previewable covers the text formats the preview and edit surfaces accept.
var previewable = extensionSet(
	"txt", "md", "json", "yaml", "yml", "xml", "csv", "log", "ini", "conf",
	"toml", "env", "sh", "bash", "py", "js", "ts", "jsx", "tsx", "css",
	"html", "htm", "go", "rs", "java", "c", "h", "cpp", "hpp", "sql",
	"gitignore", "dockerfile", "makefile", "properties", "bat", "ps1",
	"rb", "php",
)

var imageExtensions = extensionSet(
	"png", "jpg", "jpeg", "gif", "webp", "svg", "bmp", "ico", "avif",
)

func extensionSet(exts ...string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return set
}

// fileExtension extracts the lookup key for gating: the lowercased extension
// without the dot, or the whole lowercased name for extensionless files like
// Makefile and dotfiles like .gitignore.
func fileExtension(name string) string {
	base := strings.ToLower(path.Base(name))
	if ext := path.Ext(base); ext != "" && ext != base {
		return strings.TrimPrefix(ext, ".")
	}
	return strings.TrimPrefix(base, ".")
}

// isPreviewable reports whether the file may be served by preview and edit.
func isPreviewable(name string) bool {
	return previewable[fileExtension(name)]
}

// isImage reports whether the file may be served by the image surface.
func isImage(name string) bool {
	return imageExtensions[fileExtension(name)]
}
