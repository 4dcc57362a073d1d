package publish

import (
	"strings"
)

// Guideline is the posting limit set for a platform.
type Guideline struct {
	MaxCaption  int
	MaxHashtags int
	// Separator joins caption and hashtags.
	Separator string
	// BestTimes are local HH:MM slots suggested to rule authors.
	BestTimes []string
}

var guidelines = map[string]Guideline{
	"instagram": {MaxCaption: 2200, MaxHashtags: 30, Separator: "\n\n", BestTimes: []string{"11:00", "13:00", "17:00"}},
	"twitter":   {MaxCaption: 280, MaxHashtags: 2, Separator: " ", BestTimes: []string{"09:00", "12:00", "15:00"}},
	"linkedin":  {MaxCaption: 3000, MaxHashtags: 5, Separator: "\n\n", BestTimes: []string{"08:00", "12:00", "17:00"}},
	"facebook":  {MaxCaption: 63206, MaxHashtags: 10, Separator: "\n\n", BestTimes: []string{"09:00", "13:00", "15:00"}},
	"tiktok":    {MaxCaption: 2200, MaxHashtags: 10, Separator: " ", BestTimes: []string{"12:00", "19:00"}},
	"telegram":  {MaxCaption: 4096, MaxHashtags: 10, Separator: "\n\n"},
}

var defaultGuideline = Guideline{MaxCaption: 2200, MaxHashtags: 10, Separator: "\n\n"}

// GuidelineFor returns the platform's guideline, or a generic one.
func GuidelineFor(platform string) (Guideline, bool) {
	g, ok := guidelines[platform]
	if !ok {
		return defaultGuideline, false
	}
	return g, true
}

// Format renders caption and hashtags as one post body within the
// platform's limits. Over-long bodies are cut and end in "...".
func Format(platform, caption, hashtags string) string {
	g, _ := GuidelineFor(platform)
	tags := strings.Fields(hashtags)
	if g.MaxHashtags > 0 && len(tags) > g.MaxHashtags {
		tags = tags[:g.MaxHashtags]
	}
	body := strings.TrimSpace(caption)
	if len(tags) > 0 {
		body += g.Separator + strings.Join(tags, " ")
	}
	return truncate(body, g.MaxCaption)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
