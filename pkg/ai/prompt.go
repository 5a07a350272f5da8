package ai

import (
	"fmt"
	"strings"

	"sermonflow/pkg/domain"
)

const defaultVoiceTone = "Warm, pastoral, and engaging"

var assetBriefs = map[domain.AssetType]string{
	domain.AssetEmailRecap:       "A congregation-wide email recapping the sermon: a subject line, a short greeting, the big idea, two or three takeaways and one next step for the week.",
	domain.AssetDevotional:       "A five-day devotional. Each day has a title, a scripture reference from the sermon, a short reflection and a closing prayer.",
	domain.AssetSmallGroup:       "A small group discussion guide: an icebreaker, a sermon summary, six to eight discussion questions moving from observation to application, and a closing prayer prompt.",
	domain.AssetFamilyDiscussion: "A family discussion guide for parents: the main idea in kid-friendly words, three questions for the dinner table and one simple activity.",
	domain.AssetGuestFollowUp:    "A follow-up message to first-time guests who heard this sermon: a warm welcome, one sentence on the message, and an invitation to a next step.",
	domain.AssetServiceHost:      "A script for the service host: welcome, a transition into the message, and a closing that points to the week's next step.",
}

// BuildSystemPrompt defines the church persona from its research profile.
func BuildSystemPrompt(profile domain.Profile) string {
	voice := defaultVoiceTone
	if len(profile.Research.VoiceTone) > 0 {
		voice = strings.Join(profile.Research.VoiceTone, ", ")
	}
	var lexicon strings.Builder
	for _, term := range profile.Research.InsiderLexicon {
		fmt.Fprintf(&lexicon, "- **%s**\n", term)
	}
	if lexicon.Len() == 0 {
		lexicon.WriteString("- (none recorded)\n")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an expert content strategist and theologian working for **%s**.\n\n", profile.Name)
	sb.WriteString("**YOUR MANDATE:**\nCreate content that strictly adheres to the church's unique voice, theology and linguistic nuances.\n\n")
	sb.WriteString("**DEEP RESEARCH PROFILE:**\n")
	fmt.Fprintf(&sb, "* **Theological Framework:** %s\n", profile.Research.Theology)
	fmt.Fprintf(&sb, "* **Brand Voice/Tone:** %s\n", voice)
	fmt.Fprintf(&sb, "* **Slogan:** %s\n\n", profile.Research.Slogan)
	sb.WriteString("**INSIDER LEXICON (USE THESE TERMS PREFERENTIALLY):**\n")
	sb.WriteString(lexicon.String())
	sb.WriteString("\n**INSTRUCTIONS:**\n")
	sb.WriteString("1. Analyze the provided sermon transcript.\n")
	sb.WriteString("2. Detect the emotional arc and specific emphasis of the preacher.\n")
	sb.WriteString("3. Generate the requested asset, calling upon the Insider Lexicon where appropriate.\n")
	fmt.Fprintf(&sb, "4. Do NOT be generic. Sound exactly like %s.\n", profile.Name)
	return sb.String()
}

// BuildUserPrompt describes the task for one asset type.
func BuildUserPrompt(assetType domain.AssetType, doc domain.SourceDocument) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**TASK:** Generate a **%s** based on the sermon transcript below.\n\n", assetType.Label())
	if brief, ok := assetBriefs[assetType]; ok {
		fmt.Fprintf(&sb, "**BRIEF:**\n%s\n\n", brief)
	}
	if title := strings.TrimSpace(doc.Title); title != "" {
		fmt.Fprintf(&sb, "**SERMON TITLE:** %s\n\n", title)
	}
	fmt.Fprintf(&sb, "**TRANSCRIPT:**\n%s\n\n", doc.Transcript)
	sb.WriteString("**OUTPUT FORMAT:**\nReturn strict Markdown. Do not wrap the document in code fences.\n")
	return sb.String()
}

// BuildAssetPrompts returns the system and user prompts for one generation.
func BuildAssetPrompts(profile domain.Profile, doc domain.SourceDocument, assetType domain.AssetType) (string, string) {
	return BuildSystemPrompt(profile), BuildUserPrompt(assetType, doc)
}

// StripCodeFence removes a wrapping ``` block some models add despite instructions.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return trimmed
	}
	body := strings.TrimSuffix(trimmed, "```")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		return trimmed
	}
	return strings.TrimSpace(body)
}
