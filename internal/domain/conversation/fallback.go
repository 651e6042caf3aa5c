package conversation

import (
	"strings"

	"github.com/recoverly/recoverly/internal/platform/responder"
)

// Canned replies used when the responder is unavailable. Keyword rules are
// checked in order; the first match wins and the final entry always matches.
type fallbackRule struct {
	keywords []string
	reply    responder.Reply
}

var fallbackRules = []fallbackRule{
	{
		keywords: []string{"pain", "hurt", "hurts", "sore", "ache", "aching"},
		reply: responder.Reply{
			Text: "I'm sorry you're uncomfortable. On a scale of 0 to 10, how would you rate your pain right now?",
			Actions: []responder.Action{
				{Type: responder.ActionButton, Label: "Rate my pain"},
			},
		},
	},
	{
		keywords: []string{"prepare", "preparation", "before surgery", "pre-op", "preop", "get ready"},
		reply: responder.Reply{
			Text: "Your care team will share preparation instructions specific to your procedure. Check your task list for pre-surgery steps, and reach out to your provider if anything is unclear.",
		},
	},
	{
		keywords: nil,
		reply: responder.Reply{
			Text: "Thanks for your message. I can't give a detailed answer right now, but your care team can see this conversation. If this is urgent, please contact your provider or call emergency services.",
		},
	},
}

// FallbackReply returns a canned reply for the given patient message. It
// never returns an empty reply.
func FallbackReply(content string) *responder.Reply {
	lower := strings.ToLower(content)
	for _, rule := range fallbackRules {
		if len(rule.keywords) == 0 {
			return &rule.reply
		}
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &rule.reply
			}
		}
	}
	// Unreachable: the last rule has no keywords.
	return &fallbackRules[len(fallbackRules)-1].reply
}
