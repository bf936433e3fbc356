package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"campuslib/internal/apperr"
	"campuslib/internal/catalog"
	"campuslib/internal/circulation"
	"campuslib/internal/eventstore"
	"campuslib/internal/librarytest"
	"campuslib/internal/membership"
	"campuslib/internal/reservation"
	"campuslib/internal/store"
	"campuslib/internal/store/storetest"
)

func newAuditor(t *testing.T, db *store.DB) *Auditor {
	a := NewAuditor(db, zaptest.NewLogger(t))
	a.RegisterDefaults()
	return a
}

func TestEmptyLibraryPasses(t *testing.T) {
	db := storetest.New(t)
	report, err := newAuditor(t, db).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Violations())
	assert.Len(t, report.Results, 8)
}

func TestDetectsCorruptedRows(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	u := librarytest.User(t, db, membership.RoleStudent)
	item := librarytest.Item(t, db, "Dom Casmurro", 1)

	now := store.Now()
	insert := func(renewals int, fine string) {
		_, err := db.ExecContext(ctx, db.Rebind(`
			INSERT INTO loans (id, user_id, item_id, library_id, borrowed_at, due_at, status, renewal_count, max_renewals, fine)
			VALUES (?, ?, ?, 'main', ?, ?, 'active', ?, 2, ?)
		`), uuid.New(), u.ID, item.ID, now, now.Add(time.Hour), renewals, fine)
		require.NoError(t, err)
	}
	insert(5, "0")
	insert(0, "-3.50")

	report, err := newAuditor(t, db).Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Passed)

	failed := map[string]float64{}
	for _, v := range report.Violations() {
		failed[v.Name] = v.Actual
	}
	assert.Equal(t, map[string]float64{
		"overbooked_items":    1,
		"renewal_bound":       1,
		"negative_fines":      1,
		"fines_on_open_loans": 1,
	}, failed)

	var out bytes.Buffer
	Print(&out, report)
	assert.Contains(t, out.String(), "4 of 8 invariants violated")
	assert.Contains(t, out.String(), "FAIL renewal_bound")
}

func TestFailingQueryFailsCheck(t *testing.T) {
	a := NewAuditor(storetest.New(t), zap.NewNop())
	a.Register(Check{
		Name:      "broken",
		Query:     func(context.Context) (float64, error) { return 0, errors.New("no such table") },
		Threshold: Threshold{Operator: "==", Value: 0},
	})
	report, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Passed)
	assert.Equal(t, "no such table", report.Results[0].Error)
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{"<", 2, false},
		{">=", 1, true},
		{"<=", 1, true},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.want, Threshold{Operator: tt.op, Value: 1}.holds(tt.value))
		})
	}
}

func TestWatchStopsWithContext(t *testing.T) {
	a := newAuditor(t, storetest.New(t))
	ctx, cancel := context.WithCancel(context.Background())

	runs := 0
	err := a.Watch(ctx, time.Millisecond, func(r *Report) {
		runs++
		if runs == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, runs)
}

// TestInvariantsHoldAfterRandomOperations drives the loan and reservation
// services with random operations and audits after every sequence.
func TestInvariantsHoldAfterRandomOperations(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	logger := zap.NewNop()
	es := eventstore.New(db)
	items := catalog.NewRepository(db)
	users := membership.NewRepository(db)
	lifecycle := reservation.NewLifecycle(reservation.NewRepository(db, reservation.FIFO), items, es)
	reservations := reservation.NewService(reservation.Deps{
		DB: db, Lifecycle: lifecycle, Users: users, Items: items, Events: es, Logger: logger,
	})
	loans := circulation.NewService(circulation.Deps{
		DB: db, Loans: circulation.NewRepository(db), Users: users, Items: items,
		Reservations: lifecycle, Events: es, Logger: logger, Rules: circulation.DefaultRules(),
	})
	auditor := newAuditor(t, db)

	var patrons []*membership.User
	for _, role := range []membership.Role{membership.RoleStudent, membership.RoleStudent, membership.RoleProfessor} {
		patrons = append(patrons, librarytest.User(t, db, role))
	}
	var shelf []*catalog.Item
	for _, copies := range []int{1, 1, 2} {
		shelf = append(shelf, librarytest.Item(t, db, "Contos Fluminenses", copies))
	}
	var lent []uuid.UUID
	var waiting []uuid.UUID

	rapid.Check(t, func(rt *rapid.T) {
		steps := rapid.IntRange(1, 15).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			user := rapid.SampledFrom(patrons).Draw(rt, "user")
			item := rapid.SampledFrom(shelf).Draw(rt, "item")

			var err error
			switch rapid.IntRange(0, 5).Draw(rt, "op") {
			case 0:
				var loan *circulation.Loan
				if loan, err = loans.Borrow(ctx, user.ID, item.ID); err == nil {
					lent = append(lent, loan.ID)
				}
			case 1:
				var res *reservation.Reservation
				if res, err = reservations.Reserve(ctx, user.ID, item.ID); err == nil {
					waiting = append(waiting, res.ID)
				}
			case 2:
				if len(lent) > 0 {
					_, err = loans.Return(ctx, rapid.SampledFrom(lent).Draw(rt, "loan"), time.Time{}, "")
				}
			case 3:
				if len(lent) > 0 {
					_, err = loans.Renew(ctx, rapid.SampledFrom(lent).Draw(rt, "loan"), 0)
				}
			case 4:
				if len(lent) > 0 {
					_, err = loans.Cancel(ctx, rapid.SampledFrom(lent).Draw(rt, "loan"), "audit run")
				}
			case 5:
				if len(waiting) > 0 {
					err = reservations.Cancel(ctx, rapid.SampledFrom(waiting).Draw(rt, "reservation"))
				}
			}
			if err != nil && apperr.KindOf(err) == apperr.KindInternal {
				rt.Fatalf("operation failed: %v", err)
			}
		}

		report, err := auditor.Run(ctx)
		if err != nil {
			rt.Fatalf("audit: %v", err)
		}
		if !report.Passed {
			rt.Fatalf("invariants violated: %+v", report.Violations())
		}
	})
}
