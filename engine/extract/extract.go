// Package extract turns pages of the remote fiction site into typed records.
// Each parser is a pure function of the HTML; network access lives elsewhere.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/pkg/fn"
)

// ErrMissingContent is returned when a chapter page has no content node.
var ErrMissingContent = errors.New("extract: chapter content node not found")

const unknown = "Unknown"

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items   []T
	HasNext bool
}

// StoryPage is what the table-of-contents page yields.
type StoryPage struct {
	Title       string
	Author      string
	Genres      []string
	Description string
	ChapterURLs []string
	Statistics  domain.Statistics
}

// ChapterPage is one chapter's title and body text.
type ChapterPage struct {
	Title   string
	Content string
}

// CommentItem is one comment under a chapter. Date is zero when the page
// carries no timestamp.
type CommentItem struct {
	User    string
	Content string
	Date    time.Time
}

// ReviewItem is one review of a story.
type ReviewItem struct {
	Reviewer string
	Text     string
	Rating   *float64
}

func parse(src string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return doc, nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func firstText(s *goquery.Selection, fallback string) string {
	if s.Length() == 0 {
		return fallback
	}
	if t := text(s.First()); t != "" {
		return t
	}
	return fallback
}

// ParseStory extracts story metadata and the chapter list from a table of
// contents page. Chapter links are resolved against baseURL.
func ParseStory(src, baseURL string) (StoryPage, error) {
	doc, err := parse(src)
	if err != nil {
		return StoryPage{}, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return StoryPage{}, fmt.Errorf("extract: base url: %w", err)
	}

	page := StoryPage{
		Title:       firstText(doc.Find("h1"), unknown),
		Author:      author(doc),
		Description: text(doc.Find("div.description").First()),
		Statistics:  ParseStatistics(doc),
	}

	var genres []string
	doc.Find("span.tags a").Each(func(_ int, s *goquery.Selection) {
		if g := text(s); g != "" {
			genres = append(genres, g)
		}
	})
	page.Genres = fn.Unique(genres)

	var links []string
	doc.Find("table#chapters tr td:first-child a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || href == "" {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	page.ChapterURLs = fn.Unique(links)
	return page, nil
}

func author(doc *goquery.Document) string {
	if a := firstText(doc.Find("h4 a[href*='/profile/']"), ""); a != "" {
		return a
	}
	if c, ok := doc.Find("meta[property='books:author']").First().Attr("content"); ok && strings.TrimSpace(c) != "" {
		return strings.TrimSpace(c)
	}
	return unknown
}

var digits = regexp.MustCompile(`\d+`)

// ParseStatistics reads the labelled statistics list. Missing values are zero.
func ParseStatistics(doc *goquery.Document) domain.Statistics {
	box := doc.Find("div.stats-content").First()
	if box.Length() == 0 {
		box = doc.Find("div.portlet-body").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(s.Find("li").Text(), "Total Views")
		}).First()
	}
	if box.Length() == 0 {
		return domain.Statistics{}
	}
	return domain.Statistics{
		TotalViews:     statNumber(box, "Total Views"),
		Followers:      statNumber(box, "Followers"),
		Favorites:      statNumber(box, "Favorites"),
		RatingCount:    statNumber(box, "Ratings"),
		OverallScore:   statScore(box, "Overall Score"),
		StyleScore:     statScore(box, "Style Score"),
		StoryScore:     statScore(box, "Story Score"),
		GrammarScore:   statScore(box, "Grammar Score"),
		CharacterScore: statScore(box, "Character Score"),
	}
}

// statValue returns the li following the li labelled label.
func statValue(box *goquery.Selection, label string) *goquery.Selection {
	return box.Find("li").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), label)
	}).First().Next()
}

func statNumber(box *goquery.Selection, label string) int {
	v := statValue(box, label)
	m := digits.FindString(strings.ReplaceAll(v.Text(), ",", ""))
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

func statScore(box *goquery.Selection, label string) float64 {
	span := statValue(box, label).Find("span").First()
	raw := span.AttrOr("data-content", "") + span.AttrOr("aria-label", "")
	head, _, _ := strings.Cut(raw, "/")
	f, err := strconv.ParseFloat(strings.TrimSpace(head), 64)
	if err != nil {
		return 0
	}
	return f
}

// ParseChapter extracts a chapter's title and plain-text body. Scripts,
// styles and injected banner blocks are dropped; line breaks and paragraph
// ends become newlines.
func ParseChapter(src string) (ChapterPage, error) {
	doc, err := parse(src)
	if err != nil {
		return ChapterPage{}, err
	}
	content := doc.Find("div.chapter-content").First()
	if content.Length() == 0 {
		return ChapterPage{}, ErrMissingContent
	}
	content.Find("script, style, div.w-full").Remove()
	content.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithNodes(newline())
	})
	content.Find("p").Each(func(_ int, s *goquery.Selection) {
		s.AppendNodes(newline())
	})

	return ChapterPage{
		Title:   firstText(doc.Find("h1"), unknown),
		Content: strings.TrimSpace(content.Text()),
	}, nil
}

func newline() *html.Node {
	return &html.Node{Type: html.TextNode, Data: "\n"}
}

var nextCommentPage = regexp.MustCompile(`comments[=/](\d+)`)

// ParseComments extracts the comments on one page of a chapter's comment
// listing. Comments with an empty body are dropped. HasNext reports whether
// the pagination links to page+1.
func ParseComments(src string, page int) (Page[CommentItem], error) {
	doc, err := parse(src)
	if err != nil {
		return Page[CommentItem]{}, err
	}

	var out Page[CommentItem]
	doc.Find("div.comment").Each(func(_ int, node *goquery.Selection) {
		user := firstText(node.Find("h4 span.name a"), "")
		if user == "" {
			user = firstText(node.Find("a[href*='/profile/']"), "Guest")
		}

		body := node.Find("div.comment-body").First()
		body.Find("div.comment-actions").Remove()
		content := text(body)
		if content == "" {
			return
		}

		item := CommentItem{User: user, Content: content}
		if ts, ok := node.Find("time[unixtime]").First().Attr("unixtime"); ok {
			if sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64); err == nil {
				item.Date = time.Unix(sec, 0).UTC()
			}
		}
		out.Items = append(out.Items, item)
	})

	want := strconv.Itoa(page + 1)
	doc.Find("ul.pagination a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := nextCommentPage.FindStringSubmatch(s.AttrOr("href", ""))
		if m != nil && m[1] == want {
			out.HasNext = true
			return false
		}
		return true
	})
	return out, nil
}

// ParseReviews extracts the reviews on one page of a story's review listing.
// The listing has no reliable last-page marker, so HasNext is true whenever
// the page held any review nodes and the caller stops on the first empty page.
func ParseReviews(src string) (Page[ReviewItem], error) {
	doc, err := parse(src)
	if err != nil {
		return Page[ReviewItem]{}, err
	}

	var out Page[ReviewItem]
	nodes := doc.Find("div.review[id]")
	nodes.Each(func(_ int, node *goquery.Selection) {
		txt := text(node.Find("div.review-content").First())
		if txt == "" {
			return
		}
		out.Items = append(out.Items, ReviewItem{
			Reviewer: firstText(node.Find("div.review-meta a"), "Anon"),
			Text:     txt,
			Rating:   reviewRating(node),
		})
	})
	out.HasNext = nodes.Length() > 0
	return out, nil
}

// reviewRating prefers the stars element labelled "Overall" and falls back to
// the first stars element in the review.
func reviewRating(node *goquery.Selection) *float64 {
	scope := node.Find("div.scores").First()
	if scope.Length() == 0 {
		scope = node
	}
	stars := scope.Find("[aria-label*='stars']")
	if stars.Length() == 0 {
		return nil
	}
	pick := stars.First()
	stars.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Prev().Text(), "Overall") {
			pick = s
			return false
		}
		return true
	})
	label := strings.Fields(pick.AttrOr("aria-label", ""))
	if len(label) == 0 {
		return nil
	}
	f, err := strconv.ParseFloat(label[0], 64)
	if err != nil {
		return nil
	}
	return &f
}

var chapterID = regexp.MustCompile(`chapter/(\d+)`)

// ChapterNaturalID returns the numeric chapter id embedded in a chapter URL.
func ChapterNaturalID(chapterURL string) (string, bool) {
	m := chapterID.FindStringSubmatch(chapterURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}
