package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance"
)

func TestStudents(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S1", Name: "Kim", CardID: "DEADBEEF"}))
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S2", Name: "Lee"}))
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S3", Name: "Park"}))

	st, err := s.StudentByCard(ctx, "DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, "S1", st.ID)

	_, err = s.StudentByCard(ctx, "CAFEBABE")
	assert.ErrorIs(t, err, attendance.ErrUnknownCard)
	_, err = s.StudentByID(ctx, "S9")
	assert.ErrorIs(t, err, attendance.ErrUnknownStudent)

	assert.ErrorIs(t, s.SaveStudent(ctx, attendance.Student{ID: "S2", Name: "Lee", CardID: "DEADBEEF"}), attendance.ErrCardInUse)

	st, err = s.AssignCard(ctx, "S2", "CAFEBABE")
	require.NoError(t, err)
	assert.Equal(t, "CAFEBABE", st.CardID)

	_, err = s.AssignCard(ctx, "S3", "CAFEBABE")
	assert.ErrorIs(t, err, attendance.ErrCardInUse)
	_, err = s.AssignCard(ctx, "S9", "01020304")
	assert.ErrorIs(t, err, attendance.ErrUnknownStudent)

	// reassigning frees the old card
	_, err = s.AssignCard(ctx, "S2", "01020304")
	require.NoError(t, err)
	_, err = s.StudentByCard(ctx, "CAFEBABE")
	assert.ErrorIs(t, err, attendance.ErrUnknownCard)
	_, err = s.AssignCard(ctx, "S3", "CAFEBABE")
	assert.NoError(t, err)

	// saving a student again with a new card releases the previous one
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S1", Name: "Kim", CardID: "0A0B0C0D"}))
	_, err = s.StudentByCard(ctx, "DEADBEEF")
	assert.ErrorIs(t, err, attendance.ErrUnknownCard)
}

func TestCheckIns(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S1", Name: "Kim", CardID: "DEADBEEF"}))
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S2", Name: "Lee"}))

	at := time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC)
	first, err := s.AddCheckIn(ctx, attendance.CheckIn{
		ID: "c1", StudentID: "S1", CardID: "DEADBEEF", Source: attendance.SourceRFID, Day: "2024-03-04", CheckedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, "Kim", first.StudentName)

	dup, err := s.AddCheckIn(ctx, attendance.CheckIn{
		ID: "c2", StudentID: "S1", Source: attendance.SourceQR, Day: "2024-03-04", CheckedAt: at.Add(time.Hour),
	})
	assert.ErrorIs(t, err, attendance.ErrAlreadyCheckedIn)
	assert.Equal(t, "c1", dup.ID)
	assert.Equal(t, attendance.SourceRFID, dup.Source)

	_, err = s.AddCheckIn(ctx, attendance.CheckIn{
		ID: "c3", StudentID: "S2", Source: attendance.SourceQR, Day: "2024-03-04", CheckedAt: at.Add(-time.Hour),
	})
	require.NoError(t, err)

	// next day is a new check-in
	_, err = s.AddCheckIn(ctx, attendance.CheckIn{
		ID: "c4", StudentID: "S1", Source: attendance.SourceRFID, Day: "2024-03-05", CheckedAt: at.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = s.AddCheckIn(ctx, attendance.CheckIn{ID: "c5", StudentID: "S9", Day: "2024-03-04", CheckedAt: at})
	assert.ErrorIs(t, err, attendance.ErrUnknownStudent)

	list, err := s.CheckIns(ctx, "2024-03-04")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c3", list[0].ID)
	assert.Equal(t, "c1", list[1].ID)

	list, err = s.CheckIns(ctx, "2024-03-06")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
