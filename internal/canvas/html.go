package canvas

import (
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"notiflow/internal/announce"
)

var spaceBeforePunct = regexp.MustCompile(`\s+([.,!?;:])`)

// htmlToText joins the text nodes of an HTML fragment with single spaces.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, s *goquery.Selection) {
			switch goquery.NodeName(s) {
			case "#text":
				if t := strings.TrimSpace(strings.ReplaceAll(s.Text(), "\u00a0", " ")); t != "" {
					parts = append(parts, t)
				}
			case "script", "style":
			default:
				walk(s)
			}
		})
	}
	walk(doc.Selection)
	return spaceBeforePunct.ReplaceAllString(strings.Join(parts, " "), "$1"), nil
}

func sortAnnouncements(anns []announce.Announcement) {
	slices.SortStableFunc(anns, func(a, b announce.Announcement) int {
		if c := strings.Compare(a.Course, b.Course); c != 0 {
			return c
		}
		return a.PostedAt.Compare(b.PostedAt)
	})
}
