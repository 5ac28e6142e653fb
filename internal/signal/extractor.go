// Package signal derives structured session signals from the free text of
// assistant messages. No other package pattern-matches message content.
package signal

import (
	"regexp"
	"strconv"
	"strings"

	"chatsync/internal/domain"
)

var generatingPhrases = []string{
	"generate a visual",
	"this will take a moment",
	"generating another variation",
}

const (
	offerPhrase        = "here are your design variations"
	confirmationPhrase = "would you like to bring this to life?"
	tokenPrefix        = "variation_"
)

var (
	tokenPattern    = regexp.MustCompile(`(?i)\bvariation_(\d+)\b`)
	imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>()\[\]]+?\.(?:png|jpe?g|gif)\b(?:\?[^\s"'<>()\[\]]*)?`)
)

// Result carries the signals found in one assistant message. Nil fields mean
// "no change".
type Result struct {
	IsGenerating *bool
	Selection    *domain.Variation
}

// Empty reports whether the result carries no signal at all.
func (r Result) Empty() bool {
	return r.IsGenerating == nil && r.Selection == nil
}

// Extract inspects msg, an assistant message that just arrived, against the
// preceding conversation. history may or may not contain msg itself; when it
// does, only entries before it are considered.
func Extract(msg domain.Message, history []domain.Message) Result {
	var out Result
	if msg.Role != domain.RoleAssistant {
		return out
	}
	text := strings.ToLower(msg.Content)

	switch {
	case containsAny(text, generatingPhrases):
		out.IsGenerating = boolPtr(true)
	case len(msg.Attachments) > 0:
		out.IsGenerating = boolPtr(false)
	}

	if !strings.Contains(text, confirmationPhrase) {
		return out
	}
	token, ok := confirmationToken(msg.Content)
	if !ok {
		return out
	}
	offer, ok := nearestOffer(msg, history)
	if !ok {
		return out
	}
	for i, url := range OfferURLs(offer.Content) {
		if candidateToken(i) == token {
			out.Selection = &domain.Variation{Token: token, URL: url}
			break
		}
	}
	return out
}

// IsOffer reports whether text presents a set of design variations.
func IsOffer(text string) bool {
	return strings.Contains(strings.ToLower(text), offerPhrase)
}

// OfferURLs returns the image URLs of an offer in order of appearance.
func OfferURLs(text string) []string {
	return imageURLPattern.FindAllString(text, -1)
}

func confirmationToken(text string) (string, bool) {
	m := tokenPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return "", false
	}
	return candidateToken(n - 1), true
}

func candidateToken(index int) string {
	return tokenPrefix + strconv.Itoa(index+1)
}

func nearestOffer(msg domain.Message, history []domain.Message) (domain.Message, bool) {
	end := len(history)
	if msg.ID != "" {
		for i := range history {
			if history[i].ID == msg.ID {
				end = i
				break
			}
		}
	}
	for i := end - 1; i >= 0; i-- {
		h := history[i]
		if h.Role == domain.RoleAssistant && IsOffer(h.Content) {
			return h, true
		}
	}
	return domain.Message{}, false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
