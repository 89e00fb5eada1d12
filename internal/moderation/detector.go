package moderation

import (
	"regexp"
	"strings"
)

// ViolationType classifies what the detector found in a message.
type ViolationType string

const (
	ViolationProfanity ViolationType = "profanity"
	ViolationLink      ViolationType = "link"
)

// Violation describes a detected rule violation.
type Violation struct {
	Type  ViolationType
	Match string
}

var (
	urlPattern    = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)
	domainPattern = regexp.MustCompile(`(?i)\b[a-z0-9][-a-z0-9]*\.(ru|com|net|org|io|me|cc|ly|su|рф|info|biz|xyz|online|site|shop|store)\b\S*`)
	wordSplit     = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// Detector checks message text against the word list and link rules.
type Detector struct {
	words          *Wordlist
	allowedDomains []string
}

// NewDetector creates a detector over the given word list. allowedDomains
// are never flagged as forbidden links (typically just "t.me").
func NewDetector(words *Wordlist, allowedDomains []string) *Detector {
	return &Detector{words: words, allowedDomains: allowedDomains}
}

// Check returns the first violation found in text, or nil.
func (d *Detector) Check(text string) *Violation {
	if word := d.findProfanity(text); word != "" {
		return &Violation{Type: ViolationProfanity, Match: word}
	}
	if link := d.findForbiddenLink(text); link != "" {
		return &Violation{Type: ViolationLink, Match: link}
	}
	return nil
}

// findProfanity splits text into words and matches them against the exact
// set and the prefix set, honoring exceptions.
func (d *Detector) findProfanity(text string) string {
	if d.words == nil || d.words.Empty() {
		return ""
	}
	for _, word := range wordSplit.Split(strings.ToLower(text), -1) {
		if word == "" {
			continue
		}
		if _, ok := d.words.Exceptions[word]; ok {
			continue
		}
		if _, ok := d.words.Exact[word]; ok {
			return word
		}
		for _, prefix := range d.words.Prefixes {
			if strings.HasPrefix(word, prefix) {
				return word
			}
		}
	}
	return ""
}

// findForbiddenLink returns the first link not covered by the allow list.
func (d *Detector) findForbiddenLink(text string) string {
	lower := strings.ToLower(text)
	for _, pattern := range []*regexp.Regexp{urlPattern, domainPattern} {
		for _, match := range pattern.FindAllString(lower, -1) {
			if !d.isAllowed(match) {
				return match
			}
		}
	}
	return ""
}

func (d *Detector) isAllowed(link string) bool {
	for _, domain := range d.allowedDomains {
		if strings.Contains(link, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}
