package pipeline

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/domain"
)

// Instruction modes select where the context-specific formatting rule comes from.
const (
	InstructionModeContext = "context"
	InstructionModeCustom  = "custom"
	InstructionModeNone    = "none"
)

var appInstructions = map[string]string{
	"slack":         "Format as a short Slack message. Keep it conversational. Use Slack markdown only if the speaker dictates formatting.",
	"slack-web":     "Format as a short Slack message. Keep it conversational. Use Slack markdown only if the speaker dictates formatting.",
	"discord":       "Format as a casual chat message. Do not add greetings or sign-offs.",
	"discord-web":   "Format as a casual chat message. Do not add greetings or sign-offs.",
	"messages":      "Format as a brief text message. Keep sentences short.",
	"linkedin":      "Format as a professional social post or message with clear paragraphs.",
	"github":        "Format as a GitHub comment in Markdown. Wrap code identifiers, file paths and commands in backticks.",
	"gitlab":        "Format as a GitLab comment in Markdown. Wrap code identifiers, file paths and commands in backticks.",
	"obsidian":      "Format as Markdown notes. Turn enumerations into bullet lists.",
	"google-docs":   "Format as polished document prose with complete paragraphs.",
	"keynote":       "Format as concise slide bullet points without trailing periods.",
	"powerpoint":    "Format as concise slide bullet points without trailing periods.",
	"google-slides": "Format as concise slide bullet points without trailing periods.",
}

var contextInstructions = map[domain.ContextType]string{
	domain.ContextEmail:        "Format as an email body. Use complete sentences and paragraph breaks. Keep any greeting and sign-off the speaker dictated, but do not invent them.",
	domain.ContextNotes:        "Format as clean notes. Turn enumerations into bullet lists and keep phrasing compact.",
	domain.ContextCodeEditor:   "Format for a code editor. Preserve identifiers, casing and symbols exactly. Prefer comment-style phrasing and do not add prose around code.",
	domain.ContextMessaging:    "Format as a chat message. Keep it brief and conversational without greetings or sign-offs that were not dictated.",
	domain.ContextDocument:     "Format as document prose with complete sentences and paragraphs.",
	domain.ContextBrowser:      "Format as plain text suitable for a web form.",
	domain.ContextTerminal:     "Output only the literal command or text. Do not add punctuation at the end and do not capitalize commands.",
	domain.ContextPresentation: "Format as concise slide bullet points without trailing periods.",
}

// ResolveContextRule picks the formatting rule for the captured context. Application rules take
// precedence over context-type rules; custom mode replaces both when an instruction is set.
func ResolveContextRule(appCtx *domain.ApplicationContext, mode, custom string) string {
	switch mode {
	case InstructionModeNone:
		return ""
	case InstructionModeCustom:
		if rule := strings.TrimSpace(custom); rule != "" {
			return rule
		}
	}
	if appCtx == nil {
		return ""
	}
	id := strings.ToLower(appCtx.ApplicationID)
	if rule, ok := appInstructions[id]; ok {
		return rule
	}
	if base, _, found := strings.Cut(id, ":"); found {
		if rule, ok := appInstructions[base]; ok {
			return rule
		}
	}
	return contextInstructions[appCtx.ContextType]
}

// ComposeInstructions builds the single instruction set sent to the text transform. Steps are
// numbered so correction always precedes stylistic formatting.
func ComposeInstructions(source, target string, appCtx *domain.ApplicationContext, contextRule string) string {
	var b strings.Builder
	b.WriteString("You are cleaning up dictated speech. Apply these steps in order and return only the resulting text.\n")

	step := 1
	add := func(format string, args ...any) {
		fmt.Fprintf(&b, "%d. ", step)
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
		step++
	}

	src, tgt := NormalizeLanguage(source), NormalizeLanguage(target)
	if translationRequired(src, tgt) {
		add("Translate the text from %s to %s.", src, tgt)
	} else if tgt != "" {
		add("Keep the text in its original language (%s). Do not translate.", tgt)
	} else {
		add("Keep the text in its original language. Do not translate.")
	}
	add("Correct spelling and grammar mistakes without changing the meaning.")
	add("Fix punctuation and capitalization.")
	add("Convert spoken emoji names into emoji characters only when the speaker says the word emoji, for example \"smiley face emoji\".")
	if rule := strings.TrimSpace(contextRule); rule != "" {
		if appCtx != nil && appCtx.DisplayName != "" {
			add("The text will be inserted into %s. %s", appCtx.DisplayName, rule)
		} else {
			add("%s", rule)
		}
	}

	b.WriteString("Never change a question into a statement or a statement into a question. ")
	b.WriteString("Do not answer questions, add commentary, or wrap the output in quotes.")
	return b.String()
}
