// Package parser extracts flashcards from free-form markdown text.
//
// The grammar is line-oriented and processed in a single pass: a card starts
// at "## Flash: <front>" and its answer accumulates after "### Answer:" until
// the next heading that is not level 3, the next Flash line, or end of input.
// Parsing is total; malformed constructs are skipped, never reported.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/mdstudy/mdstudy/internal/domain"
)

var (
	flashRe  = regexp.MustCompile(`^## Flash: (.+)$`)
	answerRe = regexp.MustCompile(`^### Answer: ?(.*)$`)
	// Any heading of level 1-6. Level-3 headings are content unless they
	// open an answer, so they are filtered separately.
	headingRe = regexp.MustCompile(`^(#{1,6}) `)

	imageRe = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
	audioRe = regexp.MustCompile(`\[(?:audio|inline): ?[^\]]*\]\(([^)]+)\)`)
)

// Parse reads markdown text and returns the cards it contains, in document
// order. It never fails on malformed input.
func Parse(text string) []domain.ParsedCard {
	var cards []domain.ParsedCard

	var (
		front     string
		frontLine int
		answer    []string
		inAnswer  bool
	)

	finish := func() {
		if front == "" {
			return
		}
		back := strings.TrimSpace(strings.Join(answer, "\n"))
		if inAnswer && back != "" {
			cards = append(cards, domain.ParsedCard{
				Front:      front,
				Back:       back,
				MediaPaths: extractMedia(front + "\n" + back),
				SourceLine: frontLine,
			})
		}
		front = ""
		answer = nil
		inAnswer = false
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		if m := flashRe.FindStringSubmatch(line); m != nil {
			finish()
			front = strings.TrimSpace(m[1])
			frontLine = lineNo
			continue
		}

		if front == "" {
			continue
		}

		if m := answerRe.FindStringSubmatch(line); m != nil && !inAnswer {
			inAnswer = true
			if m[1] != "" {
				answer = append(answer, m[1])
			}
			continue
		}

		if h := headingRe.FindStringSubmatch(line); h != nil && len(h[1]) != 3 {
			finish()
			continue
		}

		if inAnswer {
			answer = append(answer, line)
		}
	}
	finish()

	return cards
}

// extractMedia collects image and audio reference paths from card text,
// deduplicated in first-seen order.
func extractMedia(text string) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, m := range imageRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range audioRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return paths
}
