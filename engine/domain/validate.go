package domain

import "strings"

// ValidateStory checks a Story before it is first inserted.
func ValidateStory(s Story) error {
	if strings.TrimSpace(s.Title) == "" {
		return NewValidationError("story", "title", ErrEmptyTitle)
	}
	if s.URL == "" {
		return NewValidationError("story", "url", ErrEmptyURL)
	}
	return nil
}

// ValidateChapter checks a Chapter before insert.
func ValidateChapter(c Chapter) error {
	if c.StoryID.IsZero() {
		return NewValidationError("chapter", "story_id", ErrMissingStory)
	}
	if c.URL == "" {
		return NewValidationError("chapter", "url", ErrEmptyURL)
	}
	if strings.TrimSpace(c.Content) == "" {
		return NewValidationError("chapter", "content", ErrEmptyContent)
	}
	return nil
}
