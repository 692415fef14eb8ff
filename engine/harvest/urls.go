package harvest

import (
	"fmt"
	"strings"
)

// CommentsURL is the comment listing endpoint for a chapter's numeric id.
func CommentsURL(baseURL, chapterID string, page int) string {
	return fmt.Sprintf("%s/fiction/chapter/%s/comments/%d", strings.TrimRight(baseURL, "/"), chapterID, page)
}

// ReviewsURL is page p of a story's reviews. Any query on storyURL is dropped.
func ReviewsURL(storyURL string, page int) string {
	base, _, _ := strings.Cut(storyURL, "?")
	return fmt.Sprintf("%s?reviews=%d", base, page)
}
