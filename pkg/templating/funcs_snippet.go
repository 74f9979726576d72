package templating

import (
	"fmt"
	"html/template"
	"regexp"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultSnippetLetters = 300
	snippetEllipsis       = "...."
	// snippetWordSlack is how far from a cut point a space may be and still
	// be used to end the snippet on a word boundary.
	snippetWordSlack = 15
	highlightOpen    = `<strong style="background:#ddd">`
	highlightClose   = `</strong>`
	// maxKeywordPatterns bounds the compiled keyword cache. It is emptied
	// when full.
	maxKeywordPatterns = 256
)

// keywordPattern holds the regexps for one search string: first matches its
// first word and all matches every word.
type keywordPattern struct {
	first *regexp.Regexp
	all   *regexp.Regexp
}

var (
	keywordMu       sync.Mutex
	keywordPatterns = make(map[string]*keywordPattern)
)

// compileKeywords returns the case-insensitive patterns for the words of
// keyword, or nil when it has none. Results are cached by keyword.
func compileKeywords(keyword string) *keywordPattern {
	keywordMu.Lock()
	defer keywordMu.Unlock()
	if p, ok := keywordPatterns[keyword]; ok {
		return p
	}

	words := strings.Fields(keyword)
	var p *keywordPattern
	if len(words) > 0 {
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		p = &keywordPattern{
			first: regexp.MustCompile("(?i)" + words[0]),
			all:   regexp.MustCompile("(?i)(?:" + strings.Join(words, "|") + ")"),
		}
	}
	if len(keywordPatterns) >= maxKeywordPatterns {
		clear(keywordPatterns)
	}
	keywordPatterns[keyword] = p
	return p
}

// contentSnippet is the template form of Snippet. The window size defaults to
// the configured SnippetMaxLetters.
func (tm *TemplateManager) contentSnippet(content any, keyword string, maxLetters ...int) template.HTML {
	limit := tm.GetConfig().SnippetMaxLetters
	if len(maxLetters) > 0 && maxLetters[0] > 0 {
		limit = maxLetters[0]
	}
	return Snippet(textOf(content), keyword, limit)
}

// Snippet returns at most maxLetters characters of content's text centered on
// the first occurrence of the first word of keyword, with every occurrence of
// any of its words highlighted. A snippet that does not reach the start or end
// of the text is marked with "....". Text outside the highlight markup is
// HTML-escaped.
func Snippet(content, keyword string, maxLetters int) template.HTML {
	if maxLetters <= 0 {
		maxLetters = defaultSnippetLetters
	}
	text := StripTags(content)
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)

	pattern := compileKeywords(keyword)
	start := 0
	if pattern != nil {
		if loc := pattern.first.FindStringIndex(text); loc != nil {
			start = max(utf8.RuneCountInString(text[:loc[0]])-maxLetters/2, 0)
		}
	}
	end := min(start+maxLetters, len(runes))
	window := runes[start:end]

	var prefix, suffix string
	if start > 0 {
		if i := slices.Index(window, ' '); i >= 0 && i < snippetWordSlack {
			window = window[i:]
		}
		prefix = snippetEllipsis
	}
	if end < len(runes) {
		if i := lastIndex(window, ' '); i >= 0 && len(window)-i < snippetWordSlack {
			window = window[:i]
		}
		suffix = snippetEllipsis
	}

	return template.HTML(prefix + highlight(string(window), pattern) + suffix)
}

func lastIndex(s []rune, r rune) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == r {
			return i
		}
	}
	return -1
}

// highlight escapes text and wraps each match of the keyword pattern in the
// highlight markup, keeping the matched text as written.
func highlight(text string, pattern *keywordPattern) string {
	if pattern == nil {
		return template.HTMLEscapeString(text)
	}

	var b strings.Builder
	last := 0
	for _, loc := range pattern.all.FindAllStringIndex(text, -1) {
		b.WriteString(template.HTMLEscapeString(text[last:loc[0]]))
		b.WriteString(highlightOpen)
		b.WriteString(template.HTMLEscapeString(text[loc[0]:loc[1]]))
		b.WriteString(highlightClose)
		last = loc[1]
	}
	b.WriteString(template.HTMLEscapeString(text[last:]))
	return b.String()
}

// StripTags returns the text content of an HTML fragment with entities
// decoded. Script and style bodies and comments are dropped.
func StripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if tt == html.StartTagToken {
					skip++
				} else if skip > 0 {
					skip--
				}
			}
		}
	}
}

func textOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case template.HTML:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
