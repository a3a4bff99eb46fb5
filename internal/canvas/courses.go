package canvas

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"notiflow/internal/announce"
	appLog "notiflow/internal/log"
	"notiflow/internal/model"
)

// Course is a current-term Canvas course. Label is the simplified
// identifier ("CPEN 221") that the course parser validates later.
type Course struct {
	ID    int64
	Name  string
	Label string
}

type apiTerm struct {
	StartAt *time.Time `json:"start_at"`
	EndAt   *time.Time `json:"end_at"`
}

type apiCourse struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Term       *apiTerm `json:"term"`
	Restricted bool     `json:"access_restricted_by_date"`
}

type apiAssignment struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	DueAt *time.Time `json:"due_at"`
}

type apiAnnouncement struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	PostedAt    *time.Time `json:"posted_at"`
	ContextCode string     `json:"context_code"`
}

var courseNumber = regexp.MustCompile(`^\d+`)

// CourseLabel simplifies a Canvas course name: "CPEN_V 221 101" becomes
// "CPEN 221". It reports false when the name has no numeric second word.
func CourseLabel(name string) (string, bool) {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return "", false
	}
	num := courseNumber.FindString(parts[1])
	if num == "" {
		return "", false
	}
	return strings.ReplaceAll(parts[0], "_V", "") + " " + num, true
}

// Courses lists the user's courses whose term contains now.
func (c *Client) Courses(ctx context.Context) ([]Course, error) {
	q := url.Values{}
	q.Set("per_page", "100")
	q["enrollment_state[]"] = []string{"active", "completed", "invited_or_pending"}
	q["state[]"] = []string{"available", "completed"}
	q["include[]"] = []string{"term", "course_code"}

	raw, err := getAll[apiCourse](ctx, c, "api/v1/users/self/courses", q)
	if err != nil {
		return nil, err
	}

	now := c.now()
	seen := make(map[int64]bool)
	var out []Course
	for _, rc := range raw {
		if rc.Name == "" || rc.Restricted || seen[rc.ID] || !currentTerm(rc.Term, now) {
			continue
		}
		seen[rc.ID] = true
		label, ok := CourseLabel(rc.Name)
		if !ok {
			appLog.Debug("canvas: skipping course without code", "name", rc.Name)
			continue
		}
		out = append(out, Course{ID: rc.ID, Name: rc.Name, Label: label})
	}
	return out, nil
}

func currentTerm(t *apiTerm, now time.Time) bool {
	if t == nil || t.StartAt == nil || t.EndAt == nil {
		return false
	}
	return !now.Before(*t.StartAt) && !now.After(*t.EndAt)
}

// Assignments returns one record per assignment due in the future,
// with the due time converted into the client's location.
func (c *Client) Assignments(ctx context.Context, courses []Course) ([]model.Record, error) {
	now := c.now()
	var out []model.Record
	for _, course := range courses {
		q := url.Values{"per_page": {"100"}}
		raw, err := getAll[apiAssignment](ctx, c, "api/v1/courses/"+strconv.FormatInt(course.ID, 10)+"/assignments", q)
		if err != nil {
			return nil, err
		}
		for _, a := range raw {
			if a.DueAt == nil || !a.DueAt.After(now) {
				continue
			}
			due := a.DueAt.In(c.loc)
			out = append(out, model.Record{
				Course:    course.Label,
				EventType: string(model.KindAssignment),
				Date:      due.Format(model.DateLayout),
				Begin:     due.Format(model.TimeLayout),
				End:       due.Format(model.TimeLayout),
				Title:     strings.TrimSpace(a.Name),
			})
		}
	}
	return out, nil
}

// Announcements returns the announcements of the last days, oldest first
// within each course, with HTML bodies reduced to plain text.
func (c *Client) Announcements(ctx context.Context, courses []Course, days int) ([]announce.Announcement, error) {
	if len(courses) == 0 {
		return nil, nil
	}
	byContext := make(map[string]Course, len(courses))
	q := url.Values{"per_page": {"100"}}
	for _, course := range courses {
		code := "course_" + strconv.FormatInt(course.ID, 10)
		byContext[code] = course
		q.Add("context_codes[]", code)
	}
	q.Set("start_date", c.now().UTC().AddDate(0, 0, -days).Format(time.RFC3339))

	raw, err := getAll[apiAnnouncement](ctx, c, "api/v1/announcements", q)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var out []announce.Announcement
	for _, a := range raw {
		course, ok := byContext[a.ContextCode]
		if seen[a.ID] || !ok || a.PostedAt == nil || a.Message == "" {
			continue
		}
		seen[a.ID] = true
		text, err := htmlToText(a.Message)
		if err != nil {
			appLog.Error("canvas: announcement html", err, "course", course.Label, "id", a.ID)
			continue
		}
		out = append(out, announce.Announcement{
			Course:   course.Label,
			Title:    a.Title,
			PostedAt: *a.PostedAt,
			Text:     text,
		})
	}
	sortAnnouncements(out)
	return out, nil
}
