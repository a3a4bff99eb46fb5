package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	appLog "notiflow/internal/log"
	"notiflow/internal/model"
)

const (
	DefaultFinalExamURL = "https://legacy.students.ubc.ca/views/ajax"

	examDateLayout = "Mon Jan 2 2006 | 3:04 pm"
	examDuration   = 2*time.Hour + 30*time.Minute
)

// ErrNoExam means the schedule has no exam for the course (yet).
var ErrNoExam = errors.New("no exam scheduled")

type ajaxCommand struct {
	Command string `json:"command"`
	Data    string `json:"data"`
}

// FinalExams looks up each course label on the exam schedule. Courses
// without an exam or with an unreadable page are returned as errors and
// skipped.
func (c *Client) FinalExams(ctx context.Context, labels []string) ([]model.Record, []error) {
	if c.examURL == "" {
		return nil, nil
	}
	var (
		out  []model.Record
		errs []error
	)
	for _, label := range labels {
		rec, err := c.finalExam(ctx, label)
		if err != nil {
			if !errors.Is(err, ErrNoExam) {
				appLog.Error("canvas: final exam lookup failed", err, "course", label)
			}
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		out = append(out, rec)
	}
	return out, errs
}

func (c *Client) finalExam(ctx context.Context, label string) (model.Record, error) {
	q := url.Values{}
	q.Set("view_name", "pi_exam_sched")
	q.Set("view_display_id", "block_main")
	q.Set("view_args", "")
	q.Set("course", label)

	pg, err := c.exams.fetch(ctx, c.examURL+"?"+q.Encode())
	if err != nil {
		return model.Record{}, err
	}

	var cmds []ajaxCommand
	if err := json.NewDecoder(bytes.NewReader(pg.Body)).Decode(&cmds); err != nil {
		return model.Record{}, fmt.Errorf("decode ajax response: %w", err)
	}
	var html string
	for _, cmd := range cmds {
		if cmd.Command == "insert" && cmd.Data != "" {
			html = cmd.Data
			break
		}
	}
	if html == "" {
		return model.Record{}, ErrNoExam
	}
	return parseExam(label, html, c.loc)
}

// parseExam reads the first exam block of the schedule fragment.
func parseExam(label, html string, loc *time.Location) (model.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.Record{}, err
	}
	exam := doc.Find("div.exam-content").First()
	if exam.Length() == 0 {
		return model.Record{}, ErrNoExam
	}

	raw := strings.TrimSpace(exam.Find("div.datetime").First().Text())
	start, err := time.ParseInLocation(examDateLayout, strings.ToLower(strings.Join(strings.Fields(raw), " ")), loc)
	if err != nil {
		return model.Record{}, fmt.Errorf("exam time %q: %w", raw, err)
	}

	var locations []string
	exam.Find("div.location").Each(func(_ int, s *goquery.Selection) {
		split := strings.TrimSpace(s.Find("div.split").First().Text())
		building := strings.TrimSpace(s.Find("div.location-url").First().Text())
		if split == "" {
			split = "All"
		}
		if building == "" {
			building = "Unknown"
		}
		locations = append(locations, split+": "+building)
	})

	end := start.Add(examDuration)
	return model.Record{
		Course:    label,
		EventType: string(model.KindFinal),
		Date:      start.Format(model.DateLayout),
		Begin:     start.Format(model.TimeLayout),
		End:       end.Format(model.TimeLayout),
		Location:  strings.Join(locations, ", "),
	}, nil
}
