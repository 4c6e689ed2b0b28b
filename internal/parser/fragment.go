package parser

import (
	"bufio"
	"regexp"
	"strings"
)

// Bounds on the brace scan for long or malformed replies. Each scan may walk
// the rest of the content, so the number of scans is capped as well.
const (
	maxObjectCandidates = 32
	maxBraceScans       = 256
)

// actionPattern is the cheap pre-filter for embedded directive objects.
var actionPattern = regexp.MustCompile(`"action"\s*:\s*"create_(?:project|task)"`)

// fence opens or closes a Markdown code block, with an optional info string.
var fence = regexp.MustCompile("^\\s*```\\s*([A-Za-z0-9_+-]*)\\s*$")

// codeBlock is a fenced code block found in Markdown content.
type codeBlock struct {
	Lang string
	Body string
}

// fencedBlocks returns the fenced code blocks in content, in order.
// Unterminated blocks are ignored.
func fencedBlocks(content string) []codeBlock {
	var blocks []codeBlock

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inBlock := false
	var lang string
	var body strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		match := fence.FindStringSubmatch(line)

		switch {
		case match != nil && !inBlock:
			inBlock = true
			lang = strings.ToLower(match[1])
			body.Reset()
		case match != nil && inBlock && match[1] == "":
			blocks = append(blocks, codeBlock{Lang: lang, Body: body.String()})
			inBlock = false
		case inBlock:
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	return blocks
}

// jsonLike reports whether a fenced block may hold a directive.
func (b codeBlock) jsonLike() bool {
	switch b.Lang {
	case "", "json", "jsonc", "javascript", "js":
		return true
	}
	return false
}

// objectCandidates returns balanced {...} spans of content that mention an
// action key. Braces inside JSON strings are skipped.
func objectCandidates(content string) []string {
	if !actionPattern.MatchString(content) {
		return nil
	}

	var out []string
	scans := 0
	for start := 0; start < len(content) && len(out) < maxObjectCandidates && scans < maxBraceScans; start++ {
		if content[start] != '{' {
			continue
		}
		scans++
		end := matchBrace(content, start)
		if end < 0 {
			continue
		}
		span := content[start : end+1]
		if actionPattern.MatchString(span) {
			out = append(out, span)
		}
	}
	return out
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
