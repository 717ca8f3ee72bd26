// Package course resolves course ids to display titles.
package course

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

// Course is a row of the relational courses table.
type Course struct {
	ID    string `gorm:"primaryKey"`
	Title string
}

func (Course) TableName() string { return "courses" }

// SQLResolver reads titles from a SQLite database.
type SQLResolver struct {
	db *gorm.DB
}

// OpenSQLResolver opens the database at path, creating the courses table
// when it does not exist yet.
func OpenSQLResolver(path string) (*SQLResolver, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create course db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open course db: %w", err)
	}
	if err := db.AutoMigrate(&Course{}); err != nil {
		return nil, fmt.Errorf("migrate course db: %w", err)
	}
	return &SQLResolver{db: db}, nil
}

// CourseTitle returns "" when the course has no row.
func (r *SQLResolver) CourseTitle(ctx context.Context, courseID string) (string, error) {
	var rows []Course
	err := r.db.WithContext(ctx).
		Where("id = ?", courseID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return "", domain.NewCollaboratorError("courses", "lookup title", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return strings.TrimSpace(rows[0].Title), nil
}

// SetTitle inserts or renames a course.
func (r *SQLResolver) SetTitle(ctx context.Context, courseID, title string) error {
	if strings.TrimSpace(courseID) == "" {
		return fmt.Errorf("%w: course id is required", domain.ErrInvalidInput)
	}
	err := r.db.WithContext(ctx).Save(&Course{ID: courseID, Title: title}).Error
	if err != nil {
		return domain.NewCollaboratorError("courses", "save title", err)
	}
	return nil
}

func (r *SQLResolver) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StaticResolver serves titles from configuration.
type StaticResolver map[string]string

func (s StaticResolver) CourseTitle(ctx context.Context, courseID string) (string, error) {
	return strings.TrimSpace(s[courseID]), nil
}

// Chain asks each resolver in turn and returns the first non-empty title.
// Errors are only reported when no resolver produced a title.
type Chain []port.TitleResolver

func (c Chain) CourseTitle(ctx context.Context, courseID string) (string, error) {
	var errs []error
	for _, r := range c {
		if r == nil {
			continue
		}
		title, err := r.CourseTitle(ctx, courseID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if title != "" {
			return title, nil
		}
	}
	return "", errors.Join(errs...)
}
