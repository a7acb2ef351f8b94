package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type TrainingStatus string

const (
	TrainingDraft    TrainingStatus = "draft"
	TrainingOpen     TrainingStatus = "open"
	TrainingClosed   TrainingStatus = "closed"
	TrainingFinished TrainingStatus = "finished"
)

type TrainingClass struct {
	Date        time.Time `bson:"date" json:"date"`
	Title       string    `bson:"title" json:"title"`
	StartTime   string    `bson:"start_time" json:"start_time"`
	MeetingLink string    `bson:"meeting_link,omitempty" json:"meeting_link,omitempty"`
}

type Enrollment struct {
	UserID     bson.ObjectID `bson:"user_id" json:"user_id"`
	Email      string        `bson:"email" json:"email"`
	PaymentID  string        `bson:"payment_id" json:"payment_id"`
	EnrolledAt time.Time     `bson:"enrolled_at" json:"enrolled_at"`
}

type MonthlyTraining struct {
	ID                bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Title             string          `bson:"title" json:"title"`
	Description       string          `bson:"description" json:"description"`
	Month             int             `bson:"month" json:"month"`
	Year              int             `bson:"year" json:"year"`
	Classes           []TrainingClass `bson:"classes" json:"classes"`
	MaxStudents       int             `bson:"max_students" json:"max_students"`
	Price             float64         `bson:"price" json:"price"`
	StripePriceID     string          `bson:"stripe_price_id,omitempty" json:"-"`
	RegistrationOpen  time.Time       `bson:"registration_open" json:"registration_open"`
	RegistrationClose time.Time       `bson:"registration_close" json:"registration_close"`
	Status            TrainingStatus  `bson:"status" json:"status"`
	Enrollments       []Enrollment    `bson:"enrollments" json:"enrollments,omitempty"`
	CreatedAt         time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `bson:"updated_at" json:"updated_at"`
}

func (t *MonthlyTraining) Validate() error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if t.Month < 1 || t.Month > 12 {
		return fmt.Errorf("%w: month must be between 1 and 12", ErrInvalidInput)
	}
	if t.Year < 2000 {
		return fmt.Errorf("%w: year %d is out of range", ErrInvalidInput, t.Year)
	}
	if t.MaxStudents <= 0 {
		return fmt.Errorf("%w: max students must be positive", ErrInvalidInput)
	}
	if t.Price < 0 {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidInput)
	}
	if len(t.Classes) == 0 {
		return fmt.Errorf("%w: at least one class is required", ErrInvalidInput)
	}
	switch t.Status {
	case TrainingDraft, TrainingOpen, TrainingClosed, TrainingFinished:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, t.Status)
	}

	sort.Slice(t.Classes, func(i, j int) bool { return t.Classes[i].Date.Before(t.Classes[j].Date) })
	for _, c := range t.Classes {
		if c.Date.Year() != t.Year || int(c.Date.Month()) != t.Month {
			return fmt.Errorf("%w: class %q on %s is outside %04d-%02d",
				ErrInvalidInput, c.Title, c.Date.Format("2006-01-02"), t.Year, t.Month)
		}
	}

	if t.RegistrationOpen.IsZero() || t.RegistrationClose.IsZero() {
		return fmt.Errorf("%w: registration dates are required", ErrInvalidInput)
	}
	if !t.RegistrationOpen.Before(t.RegistrationClose) {
		return fmt.Errorf("%w: registration must open before it closes", ErrInvalidInput)
	}
	if t.RegistrationClose.After(t.Classes[0].Date) {
		return fmt.Errorf("%w: registration must close by the first class", ErrInvalidInput)
	}
	return nil
}

func (t *MonthlyTraining) FirstClass() time.Time {
	if len(t.Classes) == 0 {
		return time.Time{}
	}
	return t.Classes[0].Date
}

func (t *MonthlyTraining) LastClass() time.Time {
	if len(t.Classes) == 0 {
		return time.Time{}
	}
	return t.Classes[len(t.Classes)-1].Date
}

func (t *MonthlyTraining) SeatsLeft() int {
	left := t.MaxStudents - len(t.Enrollments)
	if left < 0 {
		return 0
	}
	return left
}

func (t *MonthlyTraining) IsEnrolled(userID bson.ObjectID) bool {
	for _, e := range t.Enrollments {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// CanRegister checks that the training accepts a new enrollment at now.
func (t *MonthlyTraining) CanRegister(userID bson.ObjectID, now time.Time) error {
	if t.Status != TrainingOpen {
		return fmt.Errorf("%w: registration is not open", ErrConflict)
	}
	if now.Before(t.RegistrationOpen) || !now.Before(t.RegistrationClose) {
		return fmt.Errorf("%w: outside the registration window", ErrConflict)
	}
	if t.IsEnrolled(userID) {
		return fmt.Errorf("%w: already enrolled", ErrConflict)
	}
	if t.SeatsLeft() == 0 {
		return fmt.Errorf("%w: training is full", ErrConflict)
	}
	return nil
}

// NextStatus returns the status the calendar implies at now, for open and
// closed trainings. Drafts and finished trainings never move.
func (t *MonthlyTraining) NextStatus(now time.Time) TrainingStatus {
	switch t.Status {
	case TrainingOpen, TrainingClosed:
		if last := t.LastClass(); !last.IsZero() && now.After(last) {
			return TrainingFinished
		}
		if t.Status == TrainingOpen && !now.Before(t.RegistrationClose) {
			return TrainingClosed
		}
	}
	return t.Status
}
