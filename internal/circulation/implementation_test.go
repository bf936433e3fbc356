package circulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campuslib/internal/catalog"
	"campuslib/internal/eventstore"
	"campuslib/internal/library"
	"campuslib/internal/librarytest"
	"campuslib/internal/membership"
	"campuslib/internal/notification"
	"campuslib/internal/reservation"
	"campuslib/internal/store"
	"campuslib/internal/store/storetest"
)

type inbox struct {
	mu   sync.Mutex
	sent []notification.Notification
	fail bool
}

func (i *inbox) Notify(_ context.Context, n notification.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fail {
		return errors.New("smtp down")
	}
	i.sent = append(i.sent, n)
	return nil
}

func (i *inbox) titlesFor(userID uuid.UUID) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []string
	for _, n := range i.sent {
		if n.UserID == userID {
			out = append(out, n.Title)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	db           *store.DB
	svc          *service
	reservations reservation.Service
	lifecycle    *reservation.Lifecycle
	users        *membership.Repository
	items        *catalog.Repository
	cache        *reservation.GuardedCache
	libraries    *library.Repository
	inbox        *inbox
	clock        *clock
}

var start = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.New(t)
	es := eventstore.New(db)
	items := catalog.NewRepository(db)
	users := membership.NewRepository(db)
	lifecycle := reservation.NewLifecycle(reservation.NewRepository(db, reservation.FIFO), items, es)
	cache := reservation.NewGuardedCache(reservation.NewMemoryCache())
	libraries := library.NewRepository(db)
	box := &inbox{}
	notifier := notification.NewNotifier(box, zaptest.NewLogger(t))

	reservations := reservation.NewService(reservation.Deps{
		DB:        db,
		Lifecycle: lifecycle,
		Users:     users,
		Items:     items,
		Events:    es,
		Cache:     cache,
		Notifier:  notifier,
		Logger:    zaptest.NewLogger(t),
	})
	svc := NewService(Deps{
		DB:           db,
		Loans:        NewRepository(db),
		Users:        users,
		Items:        items,
		Reservations: lifecycle,
		Libraries:    libraries,
		Cache:        cache,
		Events:       es,
		Notifier:     notifier,
		Logger:       zaptest.NewLogger(t),
		Rules:        DefaultRules(),
	}).(*service)

	c := &clock{t: start}
	svc.now = c.now
	return &fixture{
		db:           db,
		svc:          svc,
		reservations: reservations,
		lifecycle:    lifecycle,
		users:        users,
		items:        items,
		cache:        cache,
		libraries:    libraries,
		inbox:        box,
		clock:        c,
	}
}

func (f *fixture) available(t *testing.T, itemID uuid.UUID) int {
	t.Helper()
	item, err := f.items.Get(context.Background(), f.db, itemID)
	require.NoError(t, err)
	return item.Available
}

func TestBorrowCreatesLoan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	student := librarytest.User(t, f.db, membership.RoleStudent)
	item := librarytest.Item(t, f.db, "Memórias Póstumas", 2)

	loan, err := f.svc.Borrow(ctx, student.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, loan.Status)
	assert.Equal(t, start, loan.BorrowedAt)
	assert.Equal(t, start.AddDate(0, 0, 7), loan.DueAt)
	assert.Equal(t, 2, loan.MaxRenewals)
	assert.True(t, loan.Fine.IsZero())
	assert.Equal(t, "main", loan.LibraryID)
	assert.Equal(t, 1, f.available(t, item.ID))

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, loan.DueAt.Equal(stored.DueAt))

	history, err := f.svc.History(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "LoanBorrowed", history[0].EventType)
	var payload LoanBorrowedEvent
	require.NoError(t, history[0].Decode(&payload))
	assert.Equal(t, item.ID, payload.ItemID)
	assert.Nil(t, payload.ReservationID)

	assert.Equal(t, []string{"Loan confirmed"}, f.inbox.titlesFor(student.ID))
}

func TestProfessorTermIsFourteenDays(t *testing.T) {
	f := newFixture(t)
	prof := librarytest.User(t, f.db, membership.RoleProfessor)
	item := librarytest.Item(t, f.db, "Quincas Borba", 1)

	loan, err := f.svc.Borrow(context.Background(), prof.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 14), loan.DueAt)
}

func TestBorrowRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) (userID, itemID uuid.UUID)
		want  error
	}{
		{
			name: "unknown user",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID) {
				return uuid.New(), librarytest.Item(t, f.db, "Helena", 1).ID
			},
			want: membership.ErrUserNotFound,
		},
		{
			name: "unknown item",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID) {
				return librarytest.User(t, f.db, membership.RoleStudent).ID, uuid.New()
			},
			want: catalog.ErrItemNotFound,
		},
		{
			name: "inactive user",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID) {
				u := librarytest.User(t, f.db, membership.RoleStudent)
				u.Active = false
				require.NoError(t, f.users.SetActive(ctx, f.db, u))
				return u.ID, librarytest.Item(t, f.db, "Helena", 1).ID
			},
			want: ErrUserInactive,
		},
		{
			name: "inactive item",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID) {
				item := librarytest.Item(t, f.db, "Helena", 1)
				item.Active = false
				require.NoError(t, f.items.Update(ctx, f.db, item))
				return librarytest.User(t, f.db, membership.RoleStudent).ID, item.ID
			},
			want: ErrItemUnavailable,
		},
		{
			name: "no copy left",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID) {
				item := librarytest.Item(t, f.db, "Helena", 1)
				other := librarytest.User(t, f.db, membership.RoleStudent)
				_, err := f.svc.Borrow(ctx, other.ID, item.ID)
				require.NoError(t, err)
				return librarytest.User(t, f.db, membership.RoleStudent).ID, item.ID
			},
			want: ErrItemUnavailable,
		},
		{
			name: "student limit",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID) {
				u := librarytest.User(t, f.db, membership.RoleStudent)
				for i := 0; i < 3; i++ {
					_, err := f.svc.Borrow(ctx, u.ID, librarytest.Item(t, f.db, "Contos", 1).ID)
					require.NoError(t, err)
				}
				return u.ID, librarytest.Item(t, f.db, "Helena", 1).ID
			},
			want: ErrLimitExceeded,
		},
		{
			name: "head reservation held by another user",
			setup: func(t *testing.T, f *fixture) (uuid.UUID, uuid.UUID) {
				item := librarytest.Item(t, f.db, "Helena", 3)
				waiting := librarytest.User(t, f.db, membership.RoleStudent)
				_, err := f.reservations.Reserve(ctx, waiting.ID, item.ID)
				require.NoError(t, err)
				return librarytest.User(t, f.db, membership.RoleStudent).ID, item.ID
			},
			want: ErrReservedForOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			userID, itemID := tt.setup(t, f)

			loan, err := f.svc.Borrow(ctx, userID, itemID)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, loan)
		})
	}
}

func TestConcurrentBorrowsNeverOverbook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := librarytest.Item(t, f.db, "O Alienista", 2)

	const borrowers = 8
	students := make([]*membership.User, borrowers)
	for i := range students {
		students[i] = librarytest.User(t, f.db, membership.RoleStudent)
	}

	var (
		wg                sync.WaitGroup
		mu                sync.Mutex
		succeeded, denied int
	)
	for _, u := range students {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Borrow(ctx, userID, item.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrItemUnavailable):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, borrowers-2, denied)
	assert.Equal(t, 0, f.available(t, item.ID))
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	student := librarytest.User(t, f.db, membership.RoleStudent)
	item := librarytest.Item(t, f.db, "Esaú e Jacó", 1)

	loan, err := f.svc.Borrow(ctx, student.ID, item.ID)
	require.NoError(t, err)

	f.clock.advance(3 * 24 * time.Hour)
	renewed, err := f.svc.Renew(ctx, loan.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusRenewed, renewed.Status)
	assert.Equal(t, 1, renewed.RenewalCount)
	// Extends from the previous due date, not from today.
	assert.True(t, loan.DueAt.AddDate(0, 0, 14).Equal(renewed.DueAt))

	again, err := f.svc.Renew(ctx, loan.ID, 5)
	require.NoError(t, err)
	assert.True(t, renewed.DueAt.AddDate(0, 0, 5).Equal(again.DueAt))

	_, err = f.svc.Renew(ctx, loan.ID, 0)
	assert.ErrorIs(t, err, ErrRenewalLimitReached)

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RenewalCount, "a refused renewal leaves the loan unchanged")
	assert.True(t, again.DueAt.Equal(stored.DueAt))

	assert.Contains(t, f.inbox.titlesFor(student.ID), "Loan renewed")

	_, err = f.svc.Renew(ctx, loan.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidRenewal)
}

func TestRenewDaysAreCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := librarytest.User(t, f.db, membership.RoleStudent)
	loan, err := f.svc.Borrow(ctx, u.ID, librarytest.Item(t, f.db, "Memorial de Aires", 1).ID)
	require.NoError(t, err)

	_, err = f.svc.Renew(ctx, loan.ID, 3650)
	assert.ErrorIs(t, err, ErrInvalidRenewal)
	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.RenewalCount)
	assert.True(t, loan.DueAt.Equal(stored.DueAt))

	renewed, err := f.svc.Renew(ctx, loan.ID, DefaultRules().MaxRenewalDays)
	require.NoError(t, err)
	assert.True(t, loan.DueAt.AddDate(0, 0, DefaultRules().MaxRenewalDays).Equal(renewed.DueAt))
}

func TestRenewRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("overdue", func(t *testing.T) {
		f := newFixture(t)
		u := librarytest.User(t, f.db, membership.RoleStudent)
		loan, err := f.svc.Borrow(ctx, u.ID, librarytest.Item(t, f.db, "Iaiá Garcia", 1).ID)
		require.NoError(t, err)

		f.clock.advance(8 * 24 * time.Hour)
		_, err = f.svc.Renew(ctx, loan.ID, 0)
		assert.ErrorIs(t, err, ErrOverdue)
	})

	t.Run("reserved by another user", func(t *testing.T) {
		f := newFixture(t)
		u := librarytest.User(t, f.db, membership.RoleStudent)
		item := librarytest.Item(t, f.db, "Iaiá Garcia", 1)
		loan, err := f.svc.Borrow(ctx, u.ID, item.ID)
		require.NoError(t, err)

		other := librarytest.User(t, f.db, membership.RoleProfessor)
		_, err = f.reservations.Reserve(ctx, other.ID, item.ID)
		require.NoError(t, err)

		_, err = f.svc.Renew(ctx, loan.ID, 0)
		assert.ErrorIs(t, err, ErrReservedForOther)
	})

	t.Run("own reservation does not block", func(t *testing.T) {
		f := newFixture(t)
		u := librarytest.User(t, f.db, membership.RoleStudent)
		item := librarytest.Item(t, f.db, "Iaiá Garcia", 1)
		loan, err := f.svc.Borrow(ctx, u.ID, item.ID)
		require.NoError(t, err)
		_, err = f.reservations.Reserve(ctx, u.ID, item.ID)
		require.NoError(t, err)

		_, err = f.svc.Renew(ctx, loan.ID, 0)
		assert.NoError(t, err)
	})

	t.Run("returned and cancelled", func(t *testing.T) {
		f := newFixture(t)
		u := librarytest.User(t, f.db, membership.RoleStudent)
		returned, err := f.svc.Borrow(ctx, u.ID, librarytest.Item(t, f.db, "Iaiá Garcia", 1).ID)
		require.NoError(t, err)
		_, err = f.svc.Return(ctx, returned.ID, time.Time{}, "")
		require.NoError(t, err)
		_, err = f.svc.Renew(ctx, returned.ID, 0)
		assert.ErrorIs(t, err, ErrAlreadyReturned)

		cancelled, err := f.svc.Borrow(ctx, u.ID, librarytest.Item(t, f.db, "Ressurreição", 1).ID)
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, cancelled.ID, "damaged copy")
		require.NoError(t, err)
		_, err = f.svc.Renew(ctx, cancelled.ID, 0)
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
	})
}

func TestReturnChargesWholeDaysLate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	student := librarytest.User(t, f.db, membership.RoleStudent)
	item := librarytest.Item(t, f.db, "A Mão e a Luva", 1)

	loan, err := f.svc.Borrow(ctx, student.ID, item.ID)
	require.NoError(t, err)

	f.clock.advance(7*24*time.Hour + 3*24*time.Hour + 12*time.Hour)
	returned, err := f.svc.Return(ctx, loan.ID, time.Time{}, "cover worn")
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, returned.Status)
	assert.True(t, returned.Fine.Equal(decimal.NewFromInt(6)), "3 whole days at 2.00, got %s", returned.Fine)
	assert.Equal(t, "Return: cover worn", returned.Notes)
	assert.Equal(t, 1, f.available(t, item.ID))

	_, err = f.svc.Return(ctx, loan.ID, time.Time{}, "")
	assert.ErrorIs(t, err, ErrAlreadyReturned)

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.Fine.Equal(returned.Fine), "second return leaves the fine unchanged")

	assert.Equal(t, []string{"Loan confirmed", "Item returned", "Fine assessed"}, f.inbox.titlesFor(student.ID))

	history, err := f.svc.History(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "LoanReturned", history[1].EventType)
}

func TestReturnDates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	student := librarytest.User(t, f.db, membership.RoleStudent)
	loan, err := f.svc.Borrow(ctx, student.ID, librarytest.Item(t, f.db, "Casa Velha", 1).ID)
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, loan.ID, start.Add(-time.Hour), "")
	assert.ErrorIs(t, err, ErrInvalidReturnDate)
	_, err = f.svc.Return(ctx, loan.ID, start.Add(time.Hour), "")
	assert.ErrorIs(t, err, ErrInvalidReturnDate)

	f.clock.advance(30 * 24 * time.Hour)
	backdated := start.AddDate(0, 0, 2)
	returned, err := f.svc.Return(ctx, loan.ID, backdated, "")
	require.NoError(t, err)
	assert.True(t, returned.Fine.IsZero(), "returned before the due date")
	assert.Equal(t, backdated, *returned.ReturnedAt)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	student := librarytest.User(t, f.db, membership.RoleStudent)
	item := librarytest.Item(t, f.db, "Dom Casmurro", 1)
	waiting := librarytest.User(t, f.db, membership.RoleStudent)

	loan, err := f.svc.Borrow(ctx, student.ID, item.ID)
	require.NoError(t, err)
	_, err = f.reservations.Reserve(ctx, waiting.ID, item.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, loan.ID, "  ")
	assert.ErrorIs(t, err, ErrReasonRequired)

	cancelled, err := f.svc.Cancel(ctx, loan.ID, "registered by mistake")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "Cancelled: registered by mistake", cancelled.Notes)
	assert.Equal(t, 1, f.available(t, item.ID))
	assert.Contains(t, f.inbox.titlesFor(waiting.ID), "Reserved item available")

	_, err = f.svc.Cancel(ctx, loan.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	_, err = f.svc.Return(ctx, loan.ID, time.Time{}, "")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	other, err := f.svc.Borrow(ctx, waiting.ID, item.ID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, other.ID, time.Time{}, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, other.ID, "late paperwork")
	assert.ErrorIs(t, err, ErrAlreadyReturned)
}

func TestDomCasmurroScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := librarytest.Item(t, f.db, "Dom Casmurro", 1)
	user1 := librarytest.User(t, f.db, membership.RoleProfessor)
	user2 := librarytest.User(t, f.db, membership.RoleStudent)

	loan1, err := f.svc.Borrow(ctx, user1.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 14), loan1.DueAt)
	assert.Equal(t, 0, f.available(t, item.ID))

	_, err = f.svc.Borrow(ctx, user2.ID, item.ID)
	assert.ErrorIs(t, err, ErrItemUnavailable)

	res, err := f.reservations.Reserve(ctx, user2.ID, item.ID)
	require.NoError(t, err)

	// Warm the queue cache so the return has something to invalidate.
	_, err = f.reservations.Queue(ctx, item.ID)
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, loan1.ID, time.Time{}, "")
	require.NoError(t, err)
	assert.Contains(t, f.inbox.titlesFor(user2.ID), "Reserved item available")
	_, cached, err := f.cache.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, cached, "return invalidates the queue cache")

	head, err := f.reservations.NextForItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, res.ID, head.ID, "the reservation is not converted into a loan")
	require.NotNil(t, head.NotifiedAt)

	loan2, err := f.svc.Borrow(ctx, user2.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, user2.ID, loan2.UserID)

	fulfilled, err := f.reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFulfilled, fulfilled.Status)

	head, err = f.reservations.NextForItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, head)

	history, err := f.svc.History(ctx, loan2.ID)
	require.NoError(t, err)
	var payload LoanBorrowedEvent
	require.NoError(t, history[0].Decode(&payload))
	require.NotNil(t, payload.ReservationID)
	assert.Equal(t, res.ID, *payload.ReservationID)
}

func TestFailingSinkDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.inbox.fail = true
	student := librarytest.User(t, f.db, membership.RoleStudent)
	item := librarytest.Item(t, f.db, "Várias Histórias", 1)

	loan, err := f.svc.Borrow(ctx, student.ID, item.ID)
	require.NoError(t, err)

	stored, err := f.svc.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
	assert.Equal(t, 0, f.available(t, item.ID))
}

func TestQueriesAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	student := librarytest.User(t, f.db, membership.RoleStudent)
	prof := librarytest.User(t, f.db, membership.RoleProfessor)

	a, err := f.svc.Borrow(ctx, student.ID, librarytest.Item(t, f.db, "Papéis Avulsos", 1).ID)
	require.NoError(t, err)
	b, err := f.svc.Borrow(ctx, student.ID, librarytest.Item(t, f.db, "Histórias sem Data", 1).ID)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, prof.ID, librarytest.Item(t, f.db, "Relíquias de Casa Velha", 1).ID)
	require.NoError(t, err)

	f.clock.advance(9 * 24 * time.Hour)
	_, err = f.svc.Return(ctx, a.ID, time.Time{}, "")
	require.NoError(t, err)

	all, err := f.svc.ListByUser(ctx, student.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	open, err := f.svc.ListByUser(ctx, student.ID, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
	assert.Equal(t, StatusOverdue, open[0].Status)

	overdue, err := f.svc.ListOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1, "the professor's 14-day loan is not late yet")
	assert.Equal(t, b.ID, overdue[0].ID)

	_, err = f.svc.ListByUser(ctx, uuid.New(), false)
	assert.ErrorIs(t, err, membership.ErrUserNotFound)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Open)
	assert.Equal(t, 1, stats.Overdue)
	assert.Equal(t, 1, stats.Returned)
	assert.True(t, stats.TotalFines.Equal(decimal.NewFromInt(4)), "2 days late at 2.00, got %s", stats.TotalFines)

	_, err = f.svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)
	_, err = f.svc.History(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestReminderSweeps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	student := librarytest.User(t, f.db, membership.RoleStudent)
	prof := librarytest.User(t, f.db, membership.RoleProfessor)

	_, err := f.svc.Borrow(ctx, student.ID, librarytest.Item(t, f.db, "Semana", 1).ID)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, prof.ID, librarytest.Item(t, f.db, "Crisálidas", 1).ID)
	require.NoError(t, err)

	// Six and a half days in, only the student's 7-day loan is within the lead.
	f.clock.advance(6*24*time.Hour + 12*time.Hour)
	n, err := f.svc.SendDueReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.svc.SendDueReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "one reminder per due date")
	assert.Contains(t, f.inbox.titlesFor(student.ID), "Loan due soon")

	f.clock.advance(2 * 24 * time.Hour)
	n, err = f.svc.NotifyOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.svc.NotifyOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "at most one overdue notice a day")

	f.clock.advance(24 * time.Hour)
	n, err = f.svc.NotifyOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, f.inbox.titlesFor(student.ID), "Loan overdue")
	assert.NotContains(t, f.inbox.titlesFor(prof.ID), "Loan overdue")
}

func TestClosedLibraryRefusesLending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	libraries := library.NewService(f.db, eventstore.New(f.db), f.libraries, zaptest.NewLogger(t))
	central, err := libraries.Create(ctx, library.NewLibrary{
		Code:    DefaultRules().LibraryID,
		Name:    "Biblioteca Central",
		Address: "Av. Universitária, 1000",
		Phone:   "(11) 3091-2000",
		Email:   "central@uni.edu",
	})
	require.NoError(t, err)

	u := librarytest.User(t, f.db, membership.RoleStudent)
	item := librarytest.Item(t, f.db, "Quincas Borba", 2)
	loan, err := f.svc.Borrow(ctx, u.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, central.Code, loan.LibraryID)

	_, err = libraries.SetStatus(ctx, central.ID, library.StatusClosed)
	require.NoError(t, err)

	_, err = f.svc.Borrow(ctx, librarytest.User(t, f.db, membership.RoleStudent).ID, item.ID)
	assert.ErrorIs(t, err, library.ErrLibraryClosed)
	_, err = f.svc.Renew(ctx, loan.ID, 0)
	assert.ErrorIs(t, err, library.ErrLibraryClosed)

	_, err = f.svc.Return(ctx, loan.ID, time.Time{}, "")
	assert.NoError(t, err, "returns are accepted while closed")
}
