package content

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

const maxTemplateTags = 8

// captions keyed by "platform/style". Missing keys fall back to the style
// entry under "*", then to genericCaption.
var captions = map[string]string{
	"instagram/professional": "%s is changing the game.\n\nHere is what matters and why it is worth your attention. What's your experience with this? Drop a comment below!",
	"instagram/casual":       "Quick thoughts on %s:\n\n- It's exciting\n- It's worth exploring\n- It's only getting started\n\nWhat do you think?",
	"twitter/professional":   "Thread on %s:\n\n1/ This is bigger than most people realize\n2/ The implications are huge\n3/ Here's why you should care",
	"twitter/casual":         "Hot take: %s is the future. Who else is excited about this?",
	"linkedin/professional":  "Professional insight on %s:\n\nAfter analyzing the trends, I believe this will significantly impact our industry. Here's my take on what professionals should know.\n\nWhat's your perspective?",
	"linkedin/casual":        "Industry update: %s\n\nKey takeaways:\n- Strategic importance\n- Market implications\n- Future opportunities\n\nLet's discuss in the comments.",
	"facebook/professional":  "Let's talk about %s. It is shaping how our community works and plans ahead. What has your experience been so far?",
	"tiktok/casual":          "POV: you just found out about %s. Tell me I'm not the only one!",

	"*/professional": "Exploring %s and its impact on our industry. What are your thoughts on this important subject? Share your insights below.",
	"*/casual":       "Just thinking about %s and how it affects us all! What's your take on this? Let's chat in the comments!",
	"*/creative":     "%s is like a canvas waiting for our creativity. Every perspective adds a new color to the masterpiece. What's your brushstroke?",
	"*/motivational": "%s reminds us that every challenge is an opportunity to grow stronger. What's one lesson you've learned recently? Share your wisdom!",
	"*/humorous":     "They said %s couldn't get any more interesting. They were wrong. Tell us your funniest take below!",
}

const genericCaption = "Sharing thoughts on %s. What do you think?"

var platformTags = map[string][]string{
	"instagram": {"#content", "#social", "#trending", "#viral", "#explore", "#instagood"},
	"twitter":   {"#trending", "#tech", "#innovation", "#discussion", "#thread"},
	"linkedin":  {"#professional", "#business", "#industry", "#networking", "#growth", "#leadership"},
	"facebook":  {"#community", "#share", "#discussion", "#socialmedia"},
	"tiktok":    {"#fyp", "#foryou", "#trending", "#viral"},
	"telegram":  {"#news", "#update", "#channel"},
}

var genericTags = []string{"#content", "#socialmedia", "#engagement", "#community"}

// Template is the offline, deterministic last arm of the chain.
// Identical requests always yield byte-identical drafts.
type Template struct{}

func (Template) Name() string { return "template" }

func (t Template) Draft(_ context.Context, r Request) (Draft, error) {
	return t.Render(r), nil
}

// Render is Draft without the context plumbing.
func (Template) Render(r Request) Draft {
	topic := strings.TrimSpace(r.Topic)
	if topic == "" {
		topic = "today's update"
	}
	tmpl, ok := captions[r.Platform+"/"+r.Style]
	if !ok {
		tmpl, ok = captions["*/"+r.Style]
	}
	if !ok {
		tmpl = genericCaption
	}
	style := r.Style
	if style == "" {
		style = "professional"
	}
	platform := r.Platform
	if platform == "" || platform == GenericPlatform {
		platform = "social media"
	}
	return Draft{
		Caption:      fmt.Sprintf(tmpl, topic),
		Hashtags:     templateHashtags(topic, r.Platform),
		VisualPrompt: fmt.Sprintf("Create a %s, engaging image about %s suitable for %s. Modern, clean design with vibrant colors.", style, topic, platform),
	}
}

func templateHashtags(topic, platform string) string {
	var tags []string
	seen := map[string]struct{}{}
	add := func(tag string) {
		if _, ok := seen[tag]; ok || len(tags) >= maxTemplateTags {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	for _, w := range strings.Fields(strings.ToLower(topic)) {
		w = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, w)
		if len([]rune(w)) > 3 {
			add("#" + w)
		}
	}
	base, ok := platformTags[platform]
	if !ok {
		base = genericTags
	}
	if len(base) > 5 {
		base = base[:5]
	}
	for _, tag := range base {
		add(tag)
	}
	return strings.Join(tags, " ")
}
