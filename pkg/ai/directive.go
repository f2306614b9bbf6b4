package ai

import (
	"regexp"
	"strings"
)

// The assistant embeds generation intent in its reply as a plain-text marker
// of the form [GENERATE: <prompt>]. This is the only structured part of the
// reply protocol. Literal "[GENERATE:" inside genuine reply content is not
// escaped; a structured output channel would remove this fragility once the
// hosted model supports one.
var directivePattern = regexp.MustCompile(`\[GENERATE:\s*(.*?)\]`)

// ExtractDirective scans reply text for a generation marker. Only the first
// occurrence is honored; it is removed from the returned text and its
// enclosed prompt returned separately. Without a well-formed marker the text
// comes back verbatim and the prompt is empty.
func ExtractDirective(text string) (cleaned string, prompt string) {
	match := directivePattern.FindStringSubmatchIndex(text)
	if match == nil {
		return text, ""
	}
	prompt = strings.TrimSpace(text[match[2]:match[3]])
	cleaned = strings.TrimSpace(text[:match[0]] + text[match[1]:])
	return cleaned, prompt
}
