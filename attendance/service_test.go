package attendance_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance"
	"rollcall/attendance/memstore"
)

func newService(t *testing.T) *attendance.Service {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := attendance.NewService(memstore.New(), time.UTC, log)
	require.NoError(t, svc.Import(context.Background(), []attendance.Student{
		{ID: "S1", Name: "Kim Minsu", CardID: "deadbeef"},
		{ID: "S2", Name: "Lee Jiwoo"},
	}))
	return svc
}

func TestNormalizeCardID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"deadbeef", "DEADBEEF"},
		{" de:ad:be:ef ", "DEADBEEF"},
		{"1f-3c-e2-17", "1F3CE217"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, attendance.NormalizeCardID(tc.in), tc.in)
	}
}

func TestCheckInCard(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC)

	c, err := svc.CheckInCard(ctx, "DEADBEEF", at)
	require.NoError(t, err)
	assert.Equal(t, "S1", c.StudentID)
	assert.Equal(t, "Kim Minsu", c.StudentName)
	assert.Equal(t, attendance.SourceRFID, c.Source)
	assert.Equal(t, "2024-03-04", c.Day)
	assert.NotEmpty(t, c.ID)

	again, err := svc.CheckInCard(ctx, "deadbeef", at.Add(time.Hour))
	assert.ErrorIs(t, err, attendance.ErrAlreadyCheckedIn)
	assert.Equal(t, c.ID, again.ID)

	next, err := svc.CheckInCard(ctx, "DEADBEEF", at.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", next.Day)

	_, err = svc.CheckInCard(ctx, "CAFEBABE", at)
	assert.ErrorIs(t, err, attendance.ErrUnknownCard)

	_, err = svc.CheckInCard(ctx, "  ", at)
	assert.ErrorIs(t, err, attendance.ErrInvalidInput)
}

func TestCheckInCode(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC)

	c, err := svc.CheckInCode(ctx, "student:S2", at)
	require.NoError(t, err)
	assert.Equal(t, "S2", c.StudentID)
	assert.Equal(t, attendance.SourceQR, c.Source)

	_, err = svc.CheckInCode(ctx, "S2", at)
	assert.ErrorIs(t, err, attendance.ErrAlreadyCheckedIn)

	_, err = svc.CheckInCode(ctx, "S9", at)
	assert.ErrorIs(t, err, attendance.ErrUnknownStudent)
}

func TestAssignCard(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	st, err := svc.AssignCard(ctx, "S2", "cafe:babe")
	require.NoError(t, err)
	assert.Equal(t, "CAFEBABE", st.CardID)

	_, err = svc.CheckInCard(ctx, "CAFEBABE", time.Now())
	require.NoError(t, err)

	_, err = svc.AssignCard(ctx, "S2", "DEADBEEF")
	assert.ErrorIs(t, err, attendance.ErrCardInUse)

	_, err = svc.AssignCard(ctx, "S9", "01020304")
	assert.ErrorIs(t, err, attendance.ErrUnknownStudent)

	// reassigning frees the old card
	_, err = svc.AssignCard(ctx, "S1", "01020304")
	require.NoError(t, err)
	_, err = svc.CheckInCard(ctx, "DEADBEEF", time.Now())
	assert.ErrorIs(t, err, attendance.ErrUnknownCard)
}

func TestListCheckIns(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	_, err := svc.CheckInCode(ctx, "S2", day.Add(9*time.Hour))
	require.NoError(t, err)
	_, err = svc.CheckInCard(ctx, "DEADBEEF", day.Add(8*time.Hour))
	require.NoError(t, err)
	_, err = svc.CheckInCard(ctx, "DEADBEEF", day.Add(32*time.Hour))
	require.NoError(t, err)

	list, err := svc.ListCheckIns(ctx, day.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "S1", list[0].StudentID)
	assert.Equal(t, "S2", list[1].StudentID)

	list, err = svc.ListCheckIns(ctx, day.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list)
}
