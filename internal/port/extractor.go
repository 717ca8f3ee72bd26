package port

import (
	"context"

	"coursekb/internal/domain"
)

// Extractor turns uploaded files and web pages into plain text payloads.
type Extractor interface {
	// Extract converts file bytes to text. The document type is inferred
	// from the file name.
	Extract(ctx context.Context, filename string, data []byte) (domain.UploadPayload, error)

	// Fetch downloads a web page and extracts its text, optionally limited
	// to elements carrying one of the given CSS classes.
	Fetch(ctx context.Context, url string, classes []string) (domain.UploadPayload, error)
}

// TitleResolver looks up the display title of a course.
type TitleResolver interface {
	// CourseTitle returns "" when the course is unknown.
	CourseTitle(ctx context.Context, courseID string) (string, error)
}

// TitleWriter stores the display title of a course.
type TitleWriter interface {
	SetTitle(ctx context.Context, courseID, title string) error
}
