package stream

import (
	"regexp"
	"strings"
)

var (
	// Reasoning blocks some models emit inline with the answer.
	hiddenBlockRe = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
		regexp.MustCompile(`(?is)<scratchpad>.*?</scratchpad>`),
		regexp.MustCompile(`(?is)<reflection>.*?</reflection>`),
	}
	// Any remaining element-like tag, e.g. <answer> or </tool_use>.
	// "a < b" and "<3" do not match.
	strayTagRe  = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9_:-]*(\s[^<>]*)?/?>`)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips residual markup from model text: hidden reasoning
// blocks, stray tags and runs of blank lines.
func Sanitize(text string) string {
	for _, re := range hiddenBlockRe {
		text = re.ReplaceAllString(text, "")
	}
	text = strayTagRe.ReplaceAllString(text, "")
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
