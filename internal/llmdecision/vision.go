package llmdecision

import (
	"encoding/base64"
	"strings"
)

// imageMimePrefixes identifies an explicit MIME-typed image field.
var imageMimePrefixes = []string{"image/png", "image/jpeg", "image/jpg", "image/gif", "image/webp"}

// DetectImageItems scans a slice of records for image-typed items: an
// explicit isImage flag, an image MIME type field, or base64-looking content,
// per spec.md section 4.9's vision-mode trigger.
func DetectImageItems(items []interface{}) []map[string]interface{} {
	var found []map[string]interface{}
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if isImage, ok := m["isImage"].(bool); ok && isImage {
			found = append(found, m)
			continue
		}
		if mt, ok := stringField(m, "mimeType", "mime_type", "contentType", "content_type"); ok && isImageMime(mt) {
			found = append(found, m)
			continue
		}
		if content, ok := stringField(m, "content", "data", "body"); ok && looksLikeBase64Image(content) {
			found = append(found, m)
		}
	}
	return found
}

func stringField(m map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func isImageMime(mt string) bool {
	mt = strings.ToLower(mt)
	for _, prefix := range imageMimePrefixes {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}

// looksLikeBase64Image reports whether s is plausibly base64-encoded binary
// image content: long enough, decodes cleanly, and isn't just ordinary text.
func looksLikeBase64Image(s string) bool {
	s = strings.TrimPrefix(s, "data:image")
	if idx := strings.Index(s, "base64,"); idx >= 0 {
		s = s[idx+len("base64,"):]
	}
	if len(s) < 100 {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

// ExtractImagePart builds a ContentPart from a detected image item,
// preferring a data URL's embedded base64 payload.
func ExtractImagePart(item map[string]interface{}) (ContentPart, bool) {
	content, ok := stringField(item, "content", "data", "body")
	if !ok {
		if url, ok := stringField(item, "url"); ok {
			return ContentPart{URL: url}, true
		}
		return ContentPart{}, false
	}

	mimeType, _ := stringField(item, "mimeType", "mime_type", "contentType", "content_type")
	if mimeType == "" {
		mimeType = "image/png"
	}

	payload := content
	if idx := strings.Index(content, "base64,"); idx >= 0 {
		payload = content[idx+len("base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return ContentPart{}, false
	}
	return ContentPart{MimeType: mimeType, Data: decoded}, true
}
