package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "attendance.sqlite")
	s, err := Open(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestStudents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S1", Name: "Kim", CardID: "DEADBEEF"}))
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S2", Name: "Lee"}))
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S3", Name: "Park"}))

	st, err := s.StudentByCard(ctx, "DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, attendance.Student{ID: "S1", Name: "Kim", CardID: "DEADBEEF"}, st)

	st, err = s.StudentByID(ctx, "S2")
	require.NoError(t, err)
	assert.Empty(t, st.CardID)

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
}

func TestCheckIns(t *testing.T) {
	s := openTestStore(t)
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

	_, err = s.AddCheckIn(ctx, attendance.CheckIn{ID: "c4", StudentID: "S9", Day: "2024-03-04", CheckedAt: at})
	assert.ErrorIs(t, err, attendance.ErrUnknownStudent)

	list, err := s.CheckIns(ctx, "2024-03-04")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c3", list[0].ID)
	assert.Equal(t, "c1", list[1].ID)
	assert.Equal(t, "Lee", list[0].StudentName)
	assert.True(t, at.Equal(list[1].CheckedAt))

	list, err = s.CheckIns(ctx, "2024-03-05")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentCheckInsSameDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStudent(ctx, attendance.Student{ID: "S1", Name: "Kim", CardID: "DEADBEEF"}))

	const n = 8
	at := time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC)
	results := make([]attendance.CheckIn, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.AddCheckIn(ctx, attendance.CheckIn{
				ID: fmt.Sprintf("c%d", i), StudentID: "S1", CardID: "DEADBEEF",
				Source: attendance.SourceRFID, Day: "2024-03-04", CheckedAt: at,
			})
		}(i)
	}
	wg.Wait()

	var winner string
	for i, err := range errs {
		if err == nil {
			require.Empty(t, winner, "only one check-in may succeed")
			winner = results[i].ID
		}
	}
	require.NotEmpty(t, winner)
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, attendance.ErrAlreadyCheckedIn)
			assert.Equal(t, winner, results[i].ID)
			assert.Equal(t, "Kim", results[i].StudentName)
		}
	}

	list, err := s.CheckIns(ctx, "2024-03-04")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
