package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportPublished ReportStatus = "published"
)

type Report struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string        `bson:"title" json:"title"`
	Summary     string        `bson:"summary" json:"summary"`
	Content     string        `bson:"content" json:"content"`
	Category    string        `bson:"category" json:"category"`
	ImageURLs   []string      `bson:"image_urls" json:"image_urls"`
	Author      string        `bson:"author" json:"author"`
	Status      ReportStatus  `bson:"status" json:"status"`
	Featured    bool          `bson:"featured" json:"featured"`
	Views       int64         `bson:"views" json:"views"`
	PublishedAt *time.Time    `bson:"published_at,omitempty" json:"published_at,omitempty"`
	CreatedAt   time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updated_at"`
}

func (r *Report) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Category = strings.TrimSpace(r.Category)
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if r.Category == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if r.Status != ReportDraft && r.Status != ReportPublished {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, r.Status)
	}
	return nil
}

// Publish marks the report published. It returns false if it already was.
func (r *Report) Publish(now time.Time) bool {
	if r.Status == ReportPublished {
		return false
	}
	r.Status = ReportPublished
	r.PublishedAt = &now
	r.UpdatedAt = now
	return true
}
