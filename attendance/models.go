package attendance

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownCard      = errors.New("card is not assigned to any student")
	ErrUnknownStudent   = errors.New("student not found")
	ErrAlreadyCheckedIn = errors.New("student already checked in today")
	ErrCardInUse        = errors.New("card is assigned to another student")
	ErrInvalidInput     = errors.New("invalid input")
)

// Source is how a check-in was captured.
type Source string

const (
	SourceRFID Source = "rfid"
	SourceQR   Source = "qr"
)

// DayLayout formats CheckIn.Day.
const DayLayout = "2006-01-02"

type Student struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	CardID string `json:"card_id,omitempty" db:"card_id"`
}

type CheckIn struct {
	ID          string    `json:"id" db:"id"`
	StudentID   string    `json:"student_id" db:"student_id"`
	StudentName string    `json:"student_name,omitempty" db:"student_name"`
	CardID      string    `json:"card_id,omitempty" db:"card_id"`
	Source      Source    `json:"source" db:"source"`
	Day         string    `json:"day" db:"day"`
	CheckedAt   time.Time `json:"checked_at" db:"checked_at"`
}

// Repository stores students and their check-ins.
//
// AddCheckIn must enforce one check-in per student and day: on a duplicate it
// returns the stored record together with ErrAlreadyCheckedIn.
type Repository interface {
	StudentByCard(ctx context.Context, cardID string) (Student, error)
	StudentByID(ctx context.Context, id string) (Student, error)
	SaveStudent(ctx context.Context, s Student) error
	AssignCard(ctx context.Context, studentID, cardID string) (Student, error)
	AddCheckIn(ctx context.Context, c CheckIn) (CheckIn, error)
	CheckIns(ctx context.Context, day string) ([]CheckIn, error)
}
