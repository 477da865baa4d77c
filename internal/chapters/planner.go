package chapters

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTargetDuration = 5 * time.Minute
	DefaultWordsPerMinute = 150
	DefaultMaxChars       = 4000
)

// Options tunes chapter sizing. Zero values fall back to the package defaults.
type Options struct {
	TargetDuration time.Duration
	WordsPerMinute int
	MaxChars       int
}

func (o Options) withDefaults() Options {
	if o.TargetDuration <= 0 {
		o.TargetDuration = DefaultTargetDuration
	}
	if o.WordsPerMinute <= 0 {
		o.WordsPerMinute = DefaultWordsPerMinute
	}
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	return o
}

// Segment is one planned chapter.
type Segment struct {
	Index             int
	Text              string
	StartPosition     int
	EndPosition       int
	EstimatedDuration time.Duration
}

// EstimateDuration returns the spoken duration of text at wpm words per minute.
func EstimateDuration(text string, wpm int) time.Duration {
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return time.Duration(float64(words) * 60 / float64(wpm) * float64(time.Second))
}

// Plan splits text into chapters. Paragraphs are split into sentences which
// are accumulated greedily until the next sentence would push the estimated
// duration past the target. A sentence longer than the target becomes its own
// chapter. Runs without terminal punctuation are cut at MaxChars.
func Plan(text string, opts Options) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	opts = opts.withDefaults()

	var units []span
	for _, para := range splitParagraphs(text) {
		for _, sent := range splitSentences(text, para) {
			units = append(units, capUnterminated(text, sent, opts.MaxChars)...)
		}
	}

	var (
		segments []Segment
		cur      span
		curWords int
		open     bool
	)
	flush := func() {
		if !open {
			return
		}
		segments = append(segments, Segment{
			Index:         len(segments),
			Text:          strings.TrimSpace(text[cur.start:cur.end]),
			StartPosition: cur.start,
			EndPosition:   cur.end,
		})
		open = false
		curWords = 0
	}

	for _, u := range units {
		words := len(strings.Fields(text[u.start:u.end]))
		if !open {
			cur, curWords, open = u, words, true
			continue
		}
		// Whitespace-only spans ride along with the current chapter.
		if words == 0 || curWords == 0 {
			cur.end = u.end
			curWords += words
			continue
		}
		over := wordsDuration(curWords+words, opts.WordsPerMinute) > opts.TargetDuration
		tooLong := u.end-cur.start > opts.MaxChars
		if over || tooLong {
			flush()
			cur, curWords, open = u, words, true
			continue
		}
		cur.end = u.end
		curWords += words
	}
	flush()

	if len(segments) > 0 {
		// Leading whitespace belongs to the first chapter.
		segments[0].StartPosition = 0
		segments[len(segments)-1].EndPosition = len(text)
	}
	for i := range segments {
		segments[i].EstimatedDuration = EstimateDuration(segments[i].Text, opts.WordsPerMinute)
	}
	return segments
}

func wordsDuration(words, wpm int) time.Duration {
	return time.Duration(float64(words) * 60 / float64(wpm) * float64(time.Second))
}

type span struct {
	start, end int
	terminated bool
}

// splitParagraphs returns spans separated by blank lines. The separator is
// attached to the preceding paragraph so the spans cover text without gaps.
func splitParagraphs(text string) []span {
	var out []span
	start := 0
	i := 0
	for i < len(text) {
		if text[i] != '\n' {
			i++
			continue
		}
		j := i + 1
		for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
			j++
		}
		if j < len(text) && text[j] == '\n' {
			end := j + 1
			for end < len(text) && isSpaceByte(text[end]) {
				end++
			}
			out = append(out, span{start: start, end: end})
			start = end
			i = end
			continue
		}
		i = j
	}
	if start < len(text) {
		out = append(out, span{start: start, end: len(text)})
	}
	return out
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// splitSentences splits a paragraph span into sentence spans. Each sentence
// absorbs the whitespace that follows it.
func splitSentences(text string, para span) []span {
	var out []span
	start := para.start
	i := para.start
	for i < para.end {
		r, size := utf8.DecodeRuneInString(text[i:para.end])
		if !isTerminal(r) {
			i += size
			continue
		}
		end := i + size
		for end < para.end {
			next, n := utf8.DecodeRuneInString(text[end:para.end])
			if !isTerminal(next) && !isClosing(next) {
				break
			}
			end += n
		}
		if end < para.end {
			next, _ := utf8.DecodeRuneInString(text[end:para.end])
			if !unicode.IsSpace(next) {
				i = end
				continue
			}
		}
		if r == '.' && end == i+size && isAbbreviation(text[start:i]) {
			i = end
			continue
		}
		for end < para.end {
			next, n := utf8.DecodeRuneInString(text[end:para.end])
			if !unicode.IsSpace(next) {
				break
			}
			end += n
		}
		out = append(out, span{start: start, end: end, terminated: true})
		start = end
		i = end
	}
	if start < para.end {
		out = append(out, span{start: start, end: para.end})
	}
	return out
}

// capUnterminated cuts a span without terminal punctuation into pieces of at
// most maxChars bytes, preferring the last whitespace before the cap.
func capUnterminated(text string, s span, maxChars int) []span {
	if s.terminated || s.end-s.start <= maxChars {
		return []span{s}
	}
	var out []span
	start := s.start
	for s.end-start > maxChars {
		cut := start + maxChars
		for cut > start && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if ws := strings.LastIndexAny(text[start:cut], " \t\r\n"); ws > 0 {
			cut = start + ws + 1
		}
		if cut <= start {
			cut = start + maxChars
		}
		out = append(out, span{start: start, end: cut})
		start = cut
	}
	if start < s.end {
		out = append(out, span{start: start, end: s.end})
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "no": {}, "mt": {},
}

func isAbbreviation(sentence string) bool {
	fields := strings.Fields(sentence)
	if len(fields) == 0 {
		return false
	}
	word := strings.ToLower(strings.TrimLeft(fields[len(fields)-1], `"'(“‘`))
	_, ok := abbreviations[word]
	return ok
}
