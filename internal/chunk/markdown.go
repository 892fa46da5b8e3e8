package chunk

import (
	"regexp"
	"strings"
)

var (
	// headerPattern matches ATX headers (# Header, ## Header, etc.)
	headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

	// frontmatterPattern matches YAML frontmatter
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)

	fencePattern = regexp.MustCompile("^\\s*(```|~~~)")
)

// MarkdownBlocks splits markdown content into heading-annotated blocks.
// Front matter is skipped and lines inside fenced code are never headings.
// Text before the first heading becomes a block with an empty path.
func MarkdownBlocks(content string) []Block {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if m := frontmatterPattern.FindString(content); m != "" {
		content = content[len(m):]
	}

	var blocks []Block
	headerStack := make([]string, 6) // Levels 1-6
	var path []string
	var body strings.Builder
	inFence := false

	flush := func() {
		if strings.TrimSpace(body.String()) != "" || len(path) > 0 {
			blocks = append(blocks, Block{
				HeadingPath: path,
				Text:        strings.Trim(body.String(), "\n"),
			})
		}
		body.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if fencePattern.MatchString(line) {
			inFence = !inFence
		}

		if !inFence {
			if match := headerPattern.FindStringSubmatch(line); match != nil {
				flush()

				level := len(match[1])
				headerStack[level-1] = strings.TrimSpace(match[2])
				for i := level; i < 6; i++ {
					headerStack[i] = ""
				}

				path = nil
				for i := 0; i < level; i++ {
					if headerStack[i] != "" {
						path = append(path, headerStack[i])
					}
				}
				continue
			}
		}

		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return blocks
}
