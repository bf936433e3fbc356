package audit

import (
	"context"
)

// RegisterDefaults registers the lending invariants.
func (a *Auditor) RegisterDefaults() {
	a.Register(a.countCheck("overbooked_items",
		"an item never has more open loans than copies",
		`SELECT COUNT(*) FROM items i
		 WHERE (SELECT COUNT(*) FROM loans l
		        WHERE l.item_id = i.id AND l.returned_at IS NULL AND l.cancelled_at IS NULL) > i.total_copies`))

	a.Register(a.countCheck("renewal_bound",
		"a loan is never renewed more often than allowed",
		`SELECT COUNT(*) FROM loans WHERE renewal_count < 0 OR renewal_count > max_renewals`))

	a.Register(a.countCheck("negative_fines",
		"fines are never negative",
		`SELECT COUNT(*) FROM loans WHERE CAST(fine AS REAL) < 0`))

	a.Register(a.countCheck("fines_on_open_loans",
		"only returned loans carry a fine",
		`SELECT COUNT(*) FROM loans WHERE returned_at IS NULL AND CAST(fine AS REAL) <> 0`))

	a.Register(a.countCheck("returned_and_cancelled",
		"a loan is closed at most once",
		`SELECT COUNT(*) FROM loans WHERE returned_at IS NOT NULL AND cancelled_at IS NOT NULL`))

	a.Register(a.countCheck("returned_before_borrowed",
		"a loan is never returned before it was borrowed",
		`SELECT COUNT(*) FROM loans WHERE returned_at < borrowed_at`))

	a.Register(a.countCheck("duplicate_active_reservations",
		"a user holds at most one active reservation per item",
		`SELECT COUNT(*) FROM (
		   SELECT user_id, item_id FROM reservations
		   WHERE status = 'active'
		   GROUP BY user_id, item_id HAVING COUNT(*) > 1
		 ) d`))

	a.Register(a.countCheck("open_reservations_closed",
		"active reservations have no closing time and closed ones do",
		`SELECT COUNT(*) FROM reservations
		 WHERE (status = 'active' AND closed_at IS NOT NULL)
		    OR (status <> 'active' AND closed_at IS NULL)`))
}

// countCheck builds a check whose query counts violating rows.
func (a *Auditor) countCheck(name, invariant, query string) Check {
	return Check{
		Name:      name,
		Invariant: invariant,
		Query: func(ctx context.Context) (float64, error) {
			var n int64
			if err := a.db.GetContext(ctx, &n, query); err != nil {
				return 0, err
			}
			return float64(n), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}
