package content

import "fmt"

var platformSpecs = map[string]string{
	"instagram": "Instagram post with emojis, engaging and visual, 150-200 words, include call-to-action",
	"twitter":   "Twitter post, concise, under 280 characters, engaging, trending",
	"linkedin":  "LinkedIn post, professional tone, business-focused, 200-300 words, thought leadership",
	"facebook":  "Facebook post, conversational and engaging, 100-150 words, community-focused",
	"tiktok":    "TikTok description, trendy, fun, with popular hashtags, under 150 characters",
	"telegram":  "Telegram channel post, informative, skimmable, 80-150 words",
}

var styleGuides = map[string]string{
	"professional": "Use professional language, focus on expertise and value, authoritative tone",
	"casual":       "Use friendly, conversational tone with personality, relatable",
	"creative":     "Be creative, use metaphors and storytelling, artistic approach",
	"motivational": "Be inspiring and encouraging, focus on growth and success",
	"humorous":     "Use appropriate humor, witty, entertaining but respectful",
}

func captionPrompt(r Request) string {
	spec, ok := platformSpecs[r.Platform]
	if !ok {
		spec = "social media post"
	}
	return fmt.Sprintf(`Create a %s %s about %q.

Style guide: %s

Requirements:
- Make it engaging and shareable
- Include relevant emojis where appropriate
- End with a question or call-to-action to encourage engagement
- Ensure it matches the %s audience and format
- Topic focus: %s

Generate only the caption text, no additional formatting or labels.`,
		r.Style, spec, r.Topic, styleGuides[r.Style], r.Platform, r.Topic)
}

func hashtagPrompt(r Request) string {
	return fmt.Sprintf("Generate 8-10 trending hashtags for %s about %q. Return only hashtags with # symbol, separated by spaces.",
		r.Platform, r.Topic)
}

func visualPrompt(r Request) string {
	return fmt.Sprintf("Create a detailed image prompt for %s style visual about %q for %s. Include colors, composition, mood. Max 100 words.",
		r.Style, r.Topic, r.Platform)
}
