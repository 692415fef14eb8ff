package domain

import (
	"errors"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestValidateStory(t *testing.T) {
	valid := Story{Title: "Mother of Learning", URL: "https://example.com/fiction/1"}
	if err := ValidateStory(valid); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateStory_EmptyTitle(t *testing.T) {
	err := ValidateStory(Story{Title: "  ", URL: "u"})
	if !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestValidateStory_EmptyURL(t *testing.T) {
	err := ValidateStory(Story{Title: "T"})
	if !errors.Is(err, ErrEmptyURL) {
		t.Fatalf("expected ErrEmptyURL, got %v", err)
	}
}

func TestValidateChapter(t *testing.T) {
	sid := primitive.NewObjectID()
	tests := []struct {
		name string
		ch   Chapter
		want error
	}{
		{"valid", Chapter{StoryID: sid, URL: "u", Content: "text"}, nil},
		{"no story", Chapter{URL: "u", Content: "text"}, ErrMissingStory},
		{"no url", Chapter{StoryID: sid, Content: "text"}, ErrEmptyURL},
		{"blank content", Chapter{StoryID: sid, URL: "u", Content: "\n "}, ErrEmptyContent},
	}
	for _, tt := range tests {
		err := ValidateChapter(tt.ch)
		if tt.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	ve := NewValidationError("chapter", "url", ErrEmptyURL)
	s := ve.Error()
	if !strings.Contains(s, "chapter.url") || !strings.Contains(s, "url is empty") {
		t.Fatalf("unexpected error string: %s", s)
	}
}

func TestTally(t *testing.T) {
	outcomes := []Outcome{
		Imported("a"),
		Imported("b"),
		Skipped("c", "exists"),
		Failed("d", errors.New("boom")),
	}
	tally := TallyOf(outcomes)
	if tally.Imported != 2 || tally.Skipped != 1 || tally.Failed != 1 {
		t.Fatalf("unexpected tally: %s", tally)
	}
	if tally.Total() != 4 {
		t.Fatalf("expected total 4, got %d", tally.Total())
	}
	if got := FailureSummary(outcomes); got != "d: boom\n" {
		t.Fatalf("unexpected failure summary %q", got)
	}
}

func TestFailed_NilError(t *testing.T) {
	o := Failed("k", nil)
	if o.Status != StatusFailed || o.Reason != "" {
		t.Fatalf("unexpected outcome %+v", o)
	}
}
