// Package attendance turns card scans and QR codes into daily check-ins.
package attendance

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"rollcall/monitor"
)

type Service struct {
	repo Repository
	loc  *time.Location
	log  logrus.FieldLogger
}

// NewService returns a Service computing calendar days in loc (time.Local
// when nil).
func NewService(repo Repository, loc *time.Location, log logrus.FieldLogger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, loc: loc, log: log.WithField("component", "attendance")}
}

// NormalizeCardID upper-cases a hex card id and strips separators.
func NormalizeCardID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.NewReplacer(":", "", "-", "", " ", "").Replace(id)
	return strings.ToUpper(id)
}

// CheckInCard records a check-in for the student holding cardID.
func (svc *Service) CheckInCard(ctx context.Context, cardID string, at time.Time) (CheckIn, error) {
	cardID = NormalizeCardID(cardID)
	if cardID == "" {
		return CheckIn{}, errors.Wrap(ErrInvalidInput, "card id required")
	}
	st, err := svc.repo.StudentByCard(ctx, cardID)
	if err != nil {
		svc.count(SourceRFID, err)
		return CheckIn{}, err
	}
	return svc.record(ctx, st, cardID, SourceRFID, at)
}

// CheckInCode records a check-in from a scanned QR code. The code carries the
// student id, optionally prefixed with "student:".
func (svc *Service) CheckInCode(ctx context.Context, code string, at time.Time) (CheckIn, error) {
	id := strings.TrimPrefix(strings.TrimSpace(code), "student:")
	if id == "" {
		return CheckIn{}, errors.Wrap(ErrInvalidInput, "code required")
	}
	st, err := svc.repo.StudentByID(ctx, id)
	if err != nil {
		svc.count(SourceQR, err)
		return CheckIn{}, err
	}
	return svc.record(ctx, st, st.CardID, SourceQR, at)
}

func (svc *Service) record(ctx context.Context, st Student, cardID string, src Source, at time.Time) (CheckIn, error) {
	at = at.In(svc.loc)
	c, err := svc.repo.AddCheckIn(ctx, CheckIn{
		ID:          uuid.NewString(),
		StudentID:   st.ID,
		StudentName: st.Name,
		CardID:      cardID,
		Source:      src,
		Day:         at.Format(DayLayout),
		CheckedAt:   at,
	})
	svc.count(src, err)
	if err != nil {
		return c, err
	}
	svc.log.WithFields(logrus.Fields{
		"student_id": st.ID,
		"source":     src,
	}).Info("checked in")
	return c, nil
}

func (svc *Service) count(src Source, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyCheckedIn):
		outcome = "duplicate"
	case errors.Is(err, ErrUnknownCard), errors.Is(err, ErrUnknownStudent):
		outcome = "unknown"
	default:
		outcome = "error"
	}
	monitor.CheckIns.WithLabelValues(string(src), outcome).Inc()
}

// AssignCard links cardID to a student, replacing any card the student had.
func (svc *Service) AssignCard(ctx context.Context, studentID, cardID string) (Student, error) {
	cardID = NormalizeCardID(cardID)
	if studentID == "" || cardID == "" {
		return Student{}, errors.Wrap(ErrInvalidInput, "student id and card id required")
	}
	return svc.repo.AssignCard(ctx, studentID, cardID)
}

// ListCheckIns returns the check-ins of the calendar day containing day.
func (svc *Service) ListCheckIns(ctx context.Context, day time.Time) ([]CheckIn, error) {
	return svc.repo.CheckIns(ctx, day.In(svc.loc).Format(DayLayout))
}

// Import saves every student of a roster.
func (svc *Service) Import(ctx context.Context, students []Student) error {
	for _, st := range students {
		st.CardID = NormalizeCardID(st.CardID)
		if err := svc.repo.SaveStudent(ctx, st); err != nil {
			return errors.Wrapf(err, "import student %s", st.ID)
		}
	}
	svc.log.WithField("students", len(students)).Info("roster imported")
	return nil
}
