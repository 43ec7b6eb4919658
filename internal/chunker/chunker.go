// Package chunker splits long memory content into embedding-sized chunks.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 1200
	DefaultMaxSize    = 2000
)

// Options configures chunking behavior. Sizes are in runes.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Piece is one chunk of the original text.
type Piece struct {
	Seq  int
	Text string
}

// Chunk splits text into chunks. Text no longer than MaxSize is one chunk.
func Chunk(text string, opts Options) []Piece {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}
	if opts.MaxSize < opts.TargetSize {
		opts.MaxSize = opts.TargetSize
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= opts.MaxSize {
		return []Piece{{Seq: 0, Text: text}}
	}

	var pieces []string
	for _, para := range splitParagraphs(text) {
		if runeLen(para) <= opts.MaxSize {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitSentences(para, opts)...)
	}
	return merge(pieces, opts)
}

// splitParagraphs splits on blank lines and markdown headings.
func splitParagraphs(text string) []string {
	var out []string
	var cur []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = nil
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			cur = append(cur, line)
		default:
			cur = append(cur, line)
		}
	}
	flush()
	return out
}

// splitSentences breaks an oversized paragraph on sentence ends, hard-cutting
// sentences that are themselves too long.
func splitSentences(para string, opts Options) []string {
	var out []string
	start := 0
	for i, r := range para {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + utf8.RuneLen(r)
		if end < len(para) && para[end] != ' ' && para[end] != '\n' {
			continue
		}
		if s := strings.TrimSpace(para[start:end]); s != "" {
			out = append(out, hardCut(s, opts.MaxSize)...)
		}
		start = end
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, hardCut(s, opts.MaxSize)...)
	}
	return out
}

func hardCut(s string, max int) []string {
	r := []rune(s)
	if len(r) <= max {
		return []string{s}
	}
	var out []string
	for len(r) > max {
		cut := max
		// prefer the last space inside the window
		for j := max; j > max/2; j-- {
			if r[j] == ' ' {
				cut = j
				break
			}
		}
		out = append(out, strings.TrimSpace(string(r[:cut])))
		r = r[cut:]
	}
	if rest := strings.TrimSpace(string(r)); rest != "" {
		out = append(out, rest)
	}
	return out
}

// merge packs pieces greedily up to TargetSize.
func merge(pieces []string, opts Options) []Piece {
	var out []Piece
	var acc string
	emit := func() {
		if acc != "" {
			out = append(out, Piece{Seq: len(out), Text: acc})
		}
		acc = ""
	}
	for _, p := range pieces {
		if acc == "" {
			acc = p
			continue
		}
		if runeLen(acc)+2+runeLen(p) <= opts.TargetSize {
			acc += "\n\n" + p
			continue
		}
		emit()
		acc = p
	}
	emit()
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
