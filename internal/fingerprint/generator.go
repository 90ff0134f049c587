// Package fingerprint derives stable dedup identifiers from raw content.
package fingerprint

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/iago/content-router/internal/domain"
)

const fieldSeparator = "\x1f"

var (
	postPathPattern     = regexp.MustCompile(`/posts/([A-Za-z0-9_-]+)`)
	creatorPostsPattern = regexp.MustCompile(`/([A-Za-z0-9_.-]+)/posts/?(?:$|\?|#)`)

	// Checked in order: live stream, canonical watch, short link.
	videoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/live/([A-Za-z0-9_-]{6,})`),
		regexp.MustCompile(`youtube\.com/watch\?(?:[^\s"'<>]*&)?v=([A-Za-z0-9_-]{6,})`),
		regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{6,})`),
	}

	whitespacePattern   = regexp.MustCompile(`\s+`)
	relativeTimePattern = regexp.MustCompile(`(?i)\b\d+\s*(?:second|minute|hour|day|week|month|year)s?\s+ago\b`)
)

// Generate computes the fingerprint of an item. It never fails: absent fields
// degrade to empty components.
func Generate(item domain.ContentItem) domain.Fingerprint {
	metadata := domain.FingerprintMetadata{
		PostID:          ExtractPostID(item.URL),
		VideoID:         ExtractVideoID(item.Text),
		NormalizedTitle: NormalizeText(item.Title),
		ContentHash:     ContentHash(item.Text),
		Tags:            NormalizeTags(item.Tags),
		NormalizedURL:   NormalizeURL(item.URL),
	}

	primary := sha256.Sum256([]byte(strings.Join([]string{
		metadata.PostID,
		metadata.NormalizedTitle,
		metadata.ContentHash,
	}, fieldSeparator)))

	secondary := sha1.Sum([]byte(strings.Join([]string{
		metadata.VideoID,
		strings.Join(metadata.Tags, ","),
		metadata.NormalizedURL,
	}, fieldSeparator)))

	return domain.Fingerprint{
		Primary:   hex.EncodeToString(primary[:]),
		Secondary: hex.EncodeToString(secondary[:])[:16],
		Metadata:  metadata,
	}
}

// ExtractPostID returns the post identifier for a source URL. Unparseable
// URLs still yield a stable 8-hex id derived from the raw URL.
func ExtractPostID(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return ""
	}
	if match := postPathPattern.FindStringSubmatch(trimmed); match != nil {
		return match[1]
	}
	if match := creatorPostsPattern.FindStringSubmatch(trimmed); match != nil {
		return match[1] + "_filtered"
	}
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])[:8]
}

// ExtractVideoID finds the first known video URL shape in the body.
func ExtractVideoID(body string) string {
	for _, pattern := range videoPatterns {
		if match := pattern.FindStringSubmatch(body); match != nil {
			return match[1]
		}
	}
	return ""
}

// NormalizeText collapses whitespace, trims and lowercases.
func NormalizeText(value string) string {
	return strings.ToLower(strings.TrimSpace(whitespacePattern.ReplaceAllString(value, " ")))
}

// ContentHash hashes the normalized body with relative-time phrases removed.
func ContentHash(body string) string {
	stripped := relativeTimePattern.ReplaceAllString(body, " ")
	sum := sha256.Sum256([]byte(NormalizeText(stripped)))
	return hex.EncodeToString(sum[:])
}

func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	sort.Strings(result)
	return result
}

// NormalizeURL drops the query string and fragment and lowercases the rest.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if index := strings.IndexAny(trimmed, "?#"); index >= 0 {
		trimmed = trimmed[:index]
	}
	return strings.ToLower(trimmed)
}
