// Package format turns market records into bounded-length posts.
//
// Lengths are weighted the way the platform counts them: see Length.
package format

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spredd-markets/spredd-degen/internal/market"
)

const (
	DefaultLimit   = 280
	MinLimit       = 60
	DefaultSiteURL = "https://spredd.markets"
	DefaultHashtag = "#SpreddTheWord"

	// LinkWeight is what any link counts for once the platform shortens it.
	LinkWeight = 23

	questionMax  = 100
	minTitle     = 20
	ellipsis     = "..."
	untitled     = "Untitled market"
	expiryLayout = "Jan 2, 2006 15:04 UTC"
)

// Formatter renders market and thread posts.
type Formatter struct {
	limit   int
	siteURL string
	hashtag string
}

// Options configures a Formatter. Zero values select the defaults.
type Options struct {
	Limit   int
	SiteURL string
	// Hashtag is appended to the header and closer. Empty selects
	// DefaultHashtag; an all-whitespace value disables it.
	Hashtag string
}

// New returns a Formatter. A limit below MinLimit is raised to MinLimit.
func New(opts Options) *Formatter {
	f := &Formatter{
		limit:   opts.Limit,
		siteURL: strings.TrimRight(opts.SiteURL, "/"),
		hashtag: strings.TrimSpace(opts.Hashtag),
	}
	if f.limit == 0 {
		f.limit = DefaultLimit
	}
	if f.limit < MinLimit {
		f.limit = MinLimit
	}
	if f.siteURL == "" {
		f.siteURL = DefaultSiteURL
	}
	if opts.Hashtag == "" {
		f.hashtag = DefaultHashtag
	}
	return f
}

// Limit returns the effective per-post limit.
func (f *Formatter) Limit() int { return f.limit }

// Length returns the weighted length of s. Latin, Greek, Cyrillic and
// general punctuation code points weigh 1 and every other code point,
// emoji and CJK included, weighs 2. A link weighs LinkWeight whatever its
// length, and a bare domain never less than that.
func Length(s string) int {
	n := 0
	for s != "" {
		r, size := utf8.DecodeRuneInString(s)
		if unicode.IsSpace(r) {
			n += runeWeight(r)
			s = s[size:]
			continue
		}
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			end = len(s)
		}
		n += tokenLength(s[:end])
		s = s[end:]
	}
	return n
}

func tokenLength(tok string) int {
	core := linkCore(tok)
	switch {
	case hasScheme(core):
		return LinkWeight + weight(tok[len(core):])
	case isDomain(core):
		return max(LinkWeight, weight(core)) + weight(tok[len(core):])
	default:
		return weight(tok)
	}
}

// linkCore is the leading run of printable ASCII in tok, without trailing
// sentence punctuation.
func linkCore(tok string) string {
	end := strings.IndexFunc(tok, func(r rune) bool { return r <= ' ' || r > '~' })
	if end < 0 {
		end = len(tok)
	}
	return strings.TrimRight(tok[:end], `.,:;!?'")]}`)
}

func hasScheme(s string) bool {
	lower := strings.ToLower(s)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) && len(lower) > len(scheme) {
			return true
		}
	}
	return false
}

// isDomain reports whether s looks like host.tld, optionally with a path.
func isDomain(s string) bool {
	host, _, _ := strings.Cut(s, "/")
	dot := strings.LastIndexByte(host, '.')
	if dot <= 0 || len(host)-dot-1 < 2 {
		return false
	}
	for _, r := range host[dot+1:] {
		if r < 'A' || r > 'z' || (r > 'Z' && r < 'a') {
			return false
		}
	}
	return true
}

func weight(s string) int {
	n := 0
	for _, r := range s {
		n += runeWeight(r)
	}
	return n
}

func runeWeight(r rune) int {
	switch {
	case r <= 0x10FF,
		r >= 0x2000 && r <= 0x200D,
		r >= 0x2010 && r <= 0x201F,
		r >= 0x2032 && r <= 0x2037:
		return 1
	default:
		return 2
	}
}

// post is the set of lines making up one market post.
type post struct {
	prefix   string
	title    string
	question string
	expiry   string
	link     string
}

func (p post) render(title string, withQuestion, withLink bool) string {
	lines := []string{p.prefix + title}
	if withQuestion && p.question != "" {
		lines = append(lines, p.question)
	}
	lines = append(lines, p.expiry)
	if withLink && p.link != "" {
		lines = append(lines, p.link)
	}
	return strings.Join(lines, "\n")
}

// Format renders market m as item index of total.
//
// When the full text is over the limit the title is shortened to whatever
// budget the other lines leave. If that budget is 20 or less the
// question line is dropped, then the link line. As a last resort the title
// is cut to 20 and the whole text is hard-truncated.
func (f *Formatter) Format(m market.Market, index, total int) string {
	p := post{
		prefix: fmt.Sprintf("📊 %d/%d ", index, total),
		title:  titleOf(m),
		expiry: "⏰ Expires: " + ExpiryText(m.ExpiresAt),
	}
	if q := collapse(m.Question); q != "" {
		p.question = "❓ " + truncate(q, questionMax)
	}
	if id := strings.TrimSpace(m.ID); id != "" {
		p.link = "🔗 Play: " + f.siteURL + "/" + id
	}

	if text := p.render(p.title, true, true); Length(text) <= f.limit {
		return text
	}

	stages := []struct{ question, link bool }{
		{true, true},
		{false, true},
		{false, false},
	}
	for _, st := range stages {
		rest := Length(p.render("", st.question, st.link))
		budget := f.limit - rest
		if budget > minTitle {
			return p.render(truncate(p.title, budget), st.question, st.link)
		}
	}

	return truncate(p.render(truncate(p.title, minTitle), false, false), f.limit)
}

// Header is the first post of a thread announcing count markets.
func (f *Formatter) Header(handle string, count int) string {
	noun := "Markets"
	if count == 1 {
		noun = "Market"
	}
	text := greet(handle, fmt.Sprintf("here are the %d latest live Spredd %s", count, noun))
	if f.hashtag != "" {
		text += " " + f.hashtag
	}
	return truncate(text+" 🧵👇", f.limit)
}

// NoMarkets is the single reply sent when nothing is live.
func (f *Formatter) NoMarkets(handle string) string {
	return truncate(greet(handle, "there are no live markets at the moment. Check back later!"), f.limit)
}

// Closer is the call-to-action that ends every thread.
func (f *Formatter) Closer() string {
	text := "That's the lineup! Find more live markets at " + f.siteURL
	if f.hashtag != "" {
		text += " " + f.hashtag
	}
	return truncate(text, f.limit)
}

// ExpiryText renders a raw expiry value for display. Parseable timestamps
// use a fixed UTC layout; anything else is returned verbatim, and an empty
// value becomes "TBD".
func ExpiryText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "TBD"
	}
	if t, ok := market.ParseTimestamp(raw); ok {
		return t.UTC().Format(expiryLayout)
	}
	return raw
}

func titleOf(m market.Market) string {
	if t := collapse(m.Title); t != "" {
		return t
	}
	if d := collapse(m.Description); d != "" {
		return d
	}
	return untitled
}

// collapse folds runs of whitespace, including newlines, into single spaces
// so a field always occupies exactly one line.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to a weighted length of at most n, ending in an
// ellipsis when cut. Without room for the ellipsis it is cut bare.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if Length(s) <= n {
		return s
	}
	out := ""
	for i := range s {
		if i == 0 {
			continue
		}
		cand := strings.TrimRightFunc(s[:i], unicode.IsSpace) + ellipsis
		if Length(cand) > n {
			break
		}
		out = cand
	}
	if out != "" {
		return out
	}
	for i := range s {
		if i > 0 && Length(s[:i]) > n {
			break
		}
		out = s[:i]
	}
	return out
}

// greet prefixes msg with "Hey @handle, " or, without a handle, capitalizes it.
func greet(handle, msg string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		r, size := utf8.DecodeRuneInString(msg)
		return string(unicode.ToUpper(r)) + msg[size:]
	}
	return "Hey @" + handle + ", " + msg
}
