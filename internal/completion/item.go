// Package completion turns a cursor position into path completions for
// objects stored in a COS bucket.
package completion

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/koustreak/cosbrowser/internal/config"
	"github.com/koustreak/cosbrowser/internal/listing"
)

// Kind classifies a completion item.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
	KindImage  Kind = "image"
)

// SupportedLanguages are the editor language IDs that get completions.
var SupportedLanguages = []string{
	"html",
	"vue",
	"javascriptreact",
	"typescriptreact",
	"css",
	"scss",
	"less",
}

// TriggerCharacters ask the editor to request completions when typed.
var TriggerCharacters = []string{`"`, `'`, "/", "("}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg", ".ico"}

// bareSrc matches an unbound src attribute whose value is being typed.
var bareSrc = regexp.MustCompile(`(?:^|[^:\w])src=["'][^"']*$`)

// Request is one completion request.
type Request struct {
	// Line is the text of the current line up to the cursor.
	Line string `json:"line"`
	// LanguageID is the editor language of the document.
	LanguageID string `json:"languageId"`
}

// TextEdit replaces Line[Start:End] with NewText. Offsets are bytes.
type TextEdit struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	NewText string `json:"newText"`
}

// Item is one completion candidate.
type Item struct {
	Label      string `json:"label"`
	Kind       Kind   `json:"kind"`
	Detail     string `json:"detail"`
	InsertText string `json:"insertText"`
	FilterText string `json:"filterText,omitempty"`

	// ReplaceStart and ReplaceEnd delimit the part of the line the insert
	// text replaces. ReplaceEnd is always the cursor.
	ReplaceStart int `json:"replaceStart"`
	ReplaceEnd   int `json:"replaceEnd"`

	// Retrigger asks the editor to request completions again after
	// inserting, so folders can be walked.
	Retrigger bool `json:"retrigger,omitempty"`

	// ImageURL is set on images; Resolve loads a preview from it.
	ImageURL        string     `json:"imageUrl,omitempty"`
	AdditionalEdits []TextEdit `json:"additionalEdits,omitempty"`
	Documentation   string     `json:"documentation,omitempty"`
}

// IsSupportedLanguage reports whether id gets completions.
func IsSupportedLanguage(id string) bool {
	return slices.Contains(SupportedLanguages, id)
}

// IsImage reports whether name has an image extension.
func IsImage(name string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(path.Ext(name)))
}

// CDNURL returns the public URL of key: under the configured CDN domain,
// or the default bucket domain.
func CDNURL(cfg *config.Config, key string) string {
	if cfg.CDNDomain != "" {
		return strings.TrimSuffix(cfg.CDNDomain, "/") + "/" + key
	}
	return bucketURL(cfg) + "/" + key
}

// bucketURL is the bucket's own public domain.
func bucketURL(cfg *config.Config) string {
	return fmt.Sprintf("https://%s.cos.%s.myqcloud.com", cfg.Bucket, cfg.Region)
}

// BucketKey returns the object key behind url when url is served from the
// bucket's own domain. URLs under a configured CDN domain are not matched.
func BucketKey(cfg *config.Config, url string) (string, bool) {
	if cfg.CDNDomain != "" {
		return "", false
	}
	key, ok := strings.CutPrefix(url, bucketURL(cfg)+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// FormatSize renders a byte count as 12B, 1.5KB or 2.0MB.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}

// Build shapes a listing into completion items: folders first, then files.
//
// Folders replace only the path segment after the last "/" of input and
// retrigger completion. Files replace the whole input with their public
// URL. In Vue documents with a variable name configured, files insert
// `${variable}/path` instead, and an unbound src attribute gets a ":"
// so the template literal is evaluated.
func Build(cfg *config.Config, res *listing.Result, input, line, languageID string) []Item {
	cursor := len(line)
	fileStart := cursor - len(input)
	folderStart := fileStart
	if i := strings.LastIndex(input, "/"); i >= 0 {
		folderStart = fileStart + i + 1
	}

	variableMode := languageID == "vue" && cfg.VariableName != ""

	var srcEdit []TextEdit
	if variableMode && bareSrc.MatchString(line) {
		at := strings.LastIndex(line, "src=")
		srcEdit = []TextEdit{{Start: at, End: at, NewText: ":"}}
	}

	items := make([]Item, 0, len(res.Folders)+len(res.Files))

	for _, f := range res.Folders {
		items = append(items, Item{
			Label:        f.Name + "/",
			Kind:         KindFolder,
			Detail:       "folder",
			InsertText:   f.Name + "/",
			ReplaceStart: folderStart,
			ReplaceEnd:   cursor,
			Retrigger:    true,
		})
	}

	for _, f := range res.Files {
		url := CDNURL(cfg, f.Key)

		item := Item{
			Label:        f.Name,
			Kind:         KindFile,
			InsertText:   url,
			FilterText:   input + f.Name,
			ReplaceStart: fileStart,
			ReplaceEnd:   cursor,
		}
		if variableMode {
			item.InsertText = "`${" + cfg.VariableName + "}/" + relativeKey(f.Key, cfg.DefaultPrefix) + "`"
			item.AdditionalEdits = srcEdit
		}

		label := "file"
		if IsImage(f.Name) {
			item.Kind = KindImage
			item.ImageURL = url
			label = "image"
		}
		item.Detail = label
		if f.Size > 0 {
			item.Detail = label + " (" + FormatSize(f.Size) + ")"
		}

		items = append(items, item)
	}

	return items
}

func relativeKey(key, defaultPrefix string) string {
	if defaultPrefix != "" {
		if rest, ok := strings.CutPrefix(key, defaultPrefix); ok {
			return strings.TrimPrefix(rest, "/")
		}
	}
	return key
}
