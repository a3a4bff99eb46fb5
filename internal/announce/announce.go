// Package announce turns course announcements into midterm candidates.
// Only the pre-filtering and the call to the extraction service live here;
// the extraction model itself is an external service.
package announce

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	appLog "notiflow/internal/log"
	"notiflow/internal/midterm"
	"notiflow/internal/model"
)

// Announcement is one course announcement in plain text.
type Announcement struct {
	Course   string    `json:"course"`
	Title    string    `json:"title,omitempty"`
	PostedAt time.Time `json:"posted_at"`
	Text     string    `json:"text"`
}

var (
	midtermWord = regexp.MustCompile(`(?i)\bmidterm\b`)
	// Announcements about marks rather than the date of the exam.
	gradeWords = regexp.MustCompile(`(?i)grades?|marks?|results?|scores?|passed?|failed?|review?`)
)

// Relevant reports whether an announcement may carry a midterm date.
func Relevant(a Announcement) bool {
	text := a.Title + "\n" + a.Text
	return midtermWord.MatchString(text) && !gradeWords.MatchString(text)
}

// MidtermSentences splits text after '.', '!' or '?' followed by
// whitespace and keeps the sentences that mention a midterm.
func MidtermSentences(text string) []string {
	var out []string
	for _, s := range splitSentences(text) {
		if s = strings.TrimSpace(s); s != "" && midtermWord.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				out = append(out, string(runes[start:i+1]))
				start = i + 1
			}
		}
	}
	return append(out, string(runes[start:]))
}

// Request is what an Extractor receives. PostedAt gives the model the
// context needed to resolve relative dates ("next Friday").
type Request struct {
	Course    string    `json:"course"`
	PostedAt  time.Time `json:"posted_at"`
	Sentences []string  `json:"sentences"`
}

// Extractor returns ISO 8601 dates ("2006-01-02") or date-times
// ("2006-01-02T15:04") found in the sentences. Its answers are untrusted.
type Extractor interface {
	Extract(ctx context.Context, req Request) ([]string, error)
}

// Candidates runs the filter and the extractor over the announcements and
// returns one candidate per announcement that yielded at least one date,
// in the order the announcements were given. Extractor failures are
// returned alongside the candidates and do not stop the batch.
func Candidates(ctx context.Context, ex Extractor, anns []Announcement, loc *time.Location) ([]midterm.Candidate, []error) {
	if loc == nil {
		loc = time.Local
	}
	var (
		out  []midterm.Candidate
		errs []error
	)
	for _, a := range anns {
		if err := ctx.Err(); err != nil {
			return out, append(errs, err)
		}
		if !Relevant(a) {
			continue
		}
		sentences := MidtermSentences(a.Text)
		if len(sentences) == 0 {
			continue
		}

		dates, err := ex.Extract(ctx, Request{Course: a.Course, PostedAt: a.PostedAt.In(loc), Sentences: sentences})
		if err != nil {
			appLog.Error("announce: extraction failed", err, "course", a.Course)
			errs = append(errs, fmt.Errorf("%s: %w", a.Course, err))
			continue
		}

		cand := midterm.Candidate{
			Course:      a.Course,
			Text:        strings.Join(sentences, " "),
			PublishedAt: a.PostedAt,
		}
		for _, d := range dates {
			span, err := SpanFromISO(d, loc)
			if err != nil {
				appLog.Debug("announce: ignoring extracted value", "course", a.Course, "value", d)
				continue
			}
			cand.Spans = append(cand.Spans, span)
		}
		if len(cand.Spans) > 0 {
			out = append(out, cand)
		}
	}
	return out, errs
}

// SpanFromISO converts an extractor date or date-time into a span. A bare
// date leaves the times empty for the merger to default.
func SpanFromISO(s string, loc *time.Location) (midterm.Span, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			t = t.In(loc)
			return midterm.Span{Date: t.Format(model.DateLayout), Begin: t.Format(model.TimeLayout)}, nil
		}
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return midterm.Span{}, fmt.Errorf("%w: not an ISO date %q", model.ErrRejectedInput, s)
	}
	return midterm.Span{Date: t.Format(model.DateLayout)}, nil
}
