package chunk

import (
	"regexp"
	"strings"
)

// Regex patterns for markdown parsing.
var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)

	// Matches MDX self-closing components: <Component ... />
	mdxSelfClosingPattern = regexp.MustCompile(`<[A-Z][a-zA-Z0-9]*[^>]*/\s*>`)
)

// MarkdownChunker splits markdown by header sections before token windowing,
// so chunks do not straddle section boundaries. Frontmatter is stripped and
// its contents are discarded (no metadata is kept from it); MDX component
// tags are dropped from the text.
type MarkdownChunker struct {
	text *TextChunker
}

// NewMarkdownChunker wraps a text chunker with markdown preprocessing.
func NewMarkdownChunker(text *TextChunker) *MarkdownChunker {
	return &MarkdownChunker{text: text}
}

// Chunk splits markdown content.
func (c *MarkdownChunker) Chunk(content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	remaining := content
	if match := frontmatterPattern.FindString(remaining); match != "" {
		remaining = remaining[len(match):]
	}

	remaining = mdxSelfClosingPattern.ReplaceAllString(remaining, "")

	sections := parseSections(remaining)
	if len(sections) == 0 {
		return c.text.Chunk(remaining)
	}

	var chunks []Chunk
	for _, sec := range sections {
		meta := map[string]string{}
		if sec.headerPath != "" {
			meta["header_path"] = sec.headerPath
		}
		body := sec.content
		if sec.headerTitle != "" {
			// Keep the title in the chunk text so it embeds with its section.
			body = sec.headerTitle + "\n" + body
		}
		chunks = append(chunks, c.text.chunkWithMetadata(body, meta, len(chunks))...)
	}
	return chunks
}

type section struct {
	headerTitle string
	headerPath  string
	content     string
}

// parseSections splits content at headers, tracking the header hierarchy so
// each section knows its path ("Guide > Install > Linux").
func parseSections(content string) []section {
	lines := strings.Split(content, "\n")
	var sections []section
	headerStack := make([]string, 6)

	var current *section
	var body strings.Builder

	flush := func() {
		if current != nil {
			current.content = strings.TrimSpace(body.String())
			sections = append(sections, *current)
		} else if text := strings.TrimSpace(body.String()); text != "" {
			// Preamble before the first header.
			sections = append(sections, section{content: text})
		}
		body.Reset()
	}

	for _, line := range lines {
		match := headerPattern.FindStringSubmatch(line)
		if match == nil {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		flush()

		level := len(match[1])
		title := strings.TrimSpace(match[2])

		headerStack[level-1] = title
		for i := level; i < 6; i++ {
			headerStack[i] = ""
		}

		var pathParts []string
		for _, h := range headerStack[:level] {
			if h != "" {
				pathParts = append(pathParts, h)
			}
		}

		current = &section{
			headerTitle: title,
			headerPath:  strings.Join(pathParts, " > "),
		}
	}

	flush()

	return sections
}
