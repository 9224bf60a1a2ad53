package ofx

import (
	"html"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

// element is one tag of the stream: an opening tag with an optional leaf
// value, or a closing tag.
type element struct {
	line    int
	name    string
	value   string
	closing bool
}

func (e element) String() string {
	if e.closing {
		return "</" + e.name + ">"
	}
	return "<" + e.name + ">" + e.value
}

// isLeaf reports whether an opening tag carries an inline value. Tags
// without a value open an aggregate.
func (e element) isLeaf() bool {
	return !e.closing && e.value != ""
}

// tokenize turns input lines into elements, one per tag. Several tags glued
// on one line are separated. The SGML header block (KEY:VALUE lines before
// the first tag) and XML processing instructions are dropped.
func tokenize(lines []parser.Line) []element {
	var out []element
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		for text != "" {
			start := strings.IndexByte(text, '<')
			if start < 0 {
				// header line or stray text between tags
				break
			}
			text = text[start:]
			end := strings.IndexByte(text, '>')
			if end < 0 {
				break
			}
			tag := text[1:end]
			rest := text[end+1:]
			next := strings.IndexByte(rest, '<')
			val := rest
			if next >= 0 {
				val = rest[:next]
				text = rest[next:]
			} else {
				text = ""
			}
			if strings.HasPrefix(tag, "?") || strings.HasPrefix(tag, "!") {
				continue
			}
			el := element{line: l.Num, value: html.UnescapeString(strings.TrimSpace(val))}
			if name, ok := strings.CutPrefix(tag, "/"); ok {
				el.name = strings.ToUpper(strings.TrimSpace(name))
				el.closing = true
			} else {
				el.name = strings.ToUpper(strings.TrimSpace(tag))
			}
			out = append(out, el)
		}
	}
	return out
}

// cursor is a peekable position over the element stream.
type cursor struct {
	elems []element
	pos   int
}

func (c *cursor) peek() (element, bool) {
	if c.pos >= len(c.elems) {
		return element{}, false
	}
	return c.elems[c.pos], true
}

func (c *cursor) next() (element, bool) {
	e, ok := c.peek()
	if ok {
		c.pos++
	}
	return e, ok
}

// lastLine is the line of the final element, used for end-of-input errors.
func (c *cursor) lastLine() int {
	if len(c.elems) == 0 {
		return 0
	}
	return c.elems[len(c.elems)-1].line
}
