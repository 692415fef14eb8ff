package ingest

import (
	"fmt"
	"strings"

	"github.com/storyrag/storyrag/engine/domain"
)

// UnknownStory labels chunks whose parent story can no longer be found.
const UnknownStory = "Unknown Story"

// SummaryContent is the stored text of a story summary: its description, or
// a one-line stand-in when the story has none.
func SummaryContent(s domain.Story) string {
	if d := strings.TrimSpace(s.Description); d != "" {
		return d
	}
	return fmt.Sprintf("Story: %s by %s", s.Title, s.Author)
}

// SummaryText is the string embedded for a story summary.
func SummaryText(s domain.Story) string {
	return fmt.Sprintf("Synopsis of %s: %s", s.Title, SummaryContent(s))
}

// ChapterText is the string embedded for one chunk of a chapter.
func ChapterText(storyTitle, chapterTitle, chunk string) string {
	return fmt.Sprintf("%s - %s: %s", storyTitle, chapterTitle, chunk)
}

// ReviewText is the string embedded for a review.
func ReviewText(reviewer, storyTitle, text string) string {
	return fmt.Sprintf("Review by %s for story %s: %s", reviewer, storyTitle, text)
}
