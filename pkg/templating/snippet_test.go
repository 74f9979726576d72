package templating

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

const hl = `<strong style="background:#ddd">`

var markupRe = regexp.MustCompile(`<[^>]+>`)

// visible returns the text a browser would show for a snippet.
func visible(s string) string {
	return html.UnescapeString(markupRe.ReplaceAllString(s, ""))
}

func TestSnippet(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("w%02d", i)
	}
	words[50] = "Target"
	long := strings.Join(words, " ")

	tests := []struct {
		name       string
		content    string
		keyword    string
		maxLetters int
		want       string
	}{
		{
			name:       "window around the first match",
			content:    long,
			keyword:    "target",
			maxLetters: 40,
			want:       ".... w46 w47 w48 w49 " + hl + "Target</strong> w51 w52 w53....",
		},
		{
			name:    "line breaks and multiple keywords",
			content: "alpha beta\r\ngamma\ndelta",
			keyword: "GAMMA delta",
			want:    "alpha beta " + hl + "gamma</strong> " + hl + "delta</strong>",
		},
		{
			name:       "trimmed to whole words on both sides",
			content:    strings.Repeat("abcdefghijklmnopqrstuvwxyz", 4) + " needle " + strings.Repeat("abcdefghijklmnopqrstuvwxyz", 4),
			keyword:    "needle",
			maxLetters: 20,
			want:       ".... " + hl + "needle</strong>....",
		},
		{
			name:    "tags are stripped",
			content: "<p>Hello <b>World</b></p><script>alert(1)</script> and the world",
			keyword: "world",
			want:    "Hello " + hl + "World</strong> and the " + hl + "world</strong>",
		},
		{
			name:    "text is escaped",
			content: "1 &lt; 2 &amp;&amp; x",
			keyword: "x",
			want:    "1 &lt; 2 &amp;&amp; " + hl + "x</strong>",
		},
		{
			name:    "keyword is matched literally",
			content: "costs 5.00 or 5x00",
			keyword: "5.00",
			want:    "costs " + hl + "5.00</strong> or 5x00",
		},
		{
			name:    "no match starts at the beginning",
			content: "nothing to see here",
			keyword: "absent",
			want:    "nothing to see here",
		},
		{
			name:    "empty keyword",
			content: "plain text",
			keyword: "  ",
			want:    "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(Snippet(tt.content, tt.keyword, tt.maxLetters))
			if got != tt.want {
				t.Errorf("Snippet() =\n  %q\nwant\n  %q", got, tt.want)
			}
		})
	}
}

func TestSnippetProperties(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 400; i++ {
		if i%37 == 0 {
			b.WriteString("Keyword ")
		}
		fmt.Fprintf(&b, "word%d ", i)
	}
	content := b.String()

	for _, maxLetters := range []int{30, 80, 150, 300} {
		got := string(Snippet(content, "keyword", maxLetters))
		text := visible(got)

		if n := utf8.RuneCountInString(text); n > maxLetters+2*len(snippetEllipsis) {
			t.Errorf("max %d: visible length %d exceeds the limit", maxLetters, n)
		}
		if strings.Count(strings.ToLower(text), "keyword") != strings.Count(got, hl) {
			t.Errorf("max %d: not every keyword occurrence is highlighted: %q", maxLetters, got)
		}

		body := strings.TrimSuffix(strings.TrimPrefix(text, snippetEllipsis), snippetEllipsis)
		for _, w := range strings.Fields(body) {
			if w != "Keyword" && !regexp.MustCompile(`^word\d+$`).MatchString(w) {
				t.Errorf("max %d: snippet splits a word: %q in %q", maxLetters, w, text)
			}
		}
	}
}

func TestContentSnippetDefaults(t *testing.T) {
	env := setupTestManager(t)
	content := strings.Repeat("x ", 400)

	got := env.tm.contentSnippet(content, "x")
	if n := utf8.RuneCountInString(visible(string(got))); n > 300+len(snippetEllipsis) {
		t.Errorf("default window not applied, visible length %d", n)
	}
	if got = env.tm.contentSnippet(nil, "x"); got != "" {
		t.Errorf("nil content should give an empty snippet, got %q", got)
	}
	if got = env.tm.contentSnippet(42, "4", 10); got != hl+"4</strong>2" {
		t.Errorf("unexpected snippet for a number: %q", got)
	}
}

func TestStripTags(t *testing.T) {
	in := `<div class="a">One <!-- hidden --><style>p{}</style>two &amp; <i>three</i></div>`
	if got := StripTags(in); got != "One two & three" {
		t.Errorf("StripTags() = %q", got)
	}
}

func TestCompileKeywordsCached(t *testing.T) {
	if compileKeywords("   ") != nil {
		t.Error("a blank keyword should have no pattern")
	}
	p := compileKeywords("Pears a+b")
	if p == nil || compileKeywords("Pears a+b") != p {
		t.Fatal("the same keyword should reuse its compiled pattern")
	}
	if loc := p.first.FindStringIndex("apples, PEARS"); loc == nil || loc[0] != 8 {
		t.Errorf("first word should match case-insensitively, got %v", loc)
	}
	if got := len(p.all.FindAllString("pears a+b ab", -1)); got != 2 {
		t.Errorf("expected 2 quoted matches, got %d", got)
	}

	for i := 0; i < maxKeywordPatterns+1; i++ {
		compileKeywords(fmt.Sprintf("word%d", i))
	}
	keywordMu.Lock()
	n := len(keywordPatterns)
	keywordMu.Unlock()
	if n > maxKeywordPatterns {
		t.Errorf("cache grew to %d entries", n)
	}
}
