// Package librarytest seeds users and items for package tests.
package librarytest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"campuslib/internal/catalog"
	"campuslib/internal/membership"
	"campuslib/internal/store"
)

var counter atomic.Int64

// User inserts an active user with the given role.
func User(t testing.TB, db *store.DB, role membership.Role) *membership.User {
	t.Helper()
	n := counter.Add(1)
	now := store.Now()
	u := &membership.User{
		ID:           uuid.New(),
		Name:         fmt.Sprintf("%s %d", role, n),
		Email:        fmt.Sprintf("%s%d@uni.test", role, n),
		Role:         role,
		EnrollmentID: fmt.Sprintf("E%05d", n),
		Course:       "Letras",
		Department:   "Literatura",
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
		Credential:   membership.Credential{PasswordHash: "x", Salt: "x"},
	}
	if err := membership.NewRepository(db).Insert(context.Background(), db, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// Item inserts an active item with the given number of copies.
func Item(t testing.TB, db *store.DB, title string, copies int) *catalog.Item {
	t.Helper()
	n := counter.Add(1)
	now := store.Now()
	item := &catalog.Item{
		ID:          uuid.New(),
		ISBN:        fmt.Sprintf("978%010d", n),
		Title:       title,
		Author:      "Machado de Assis",
		Genre:       "Romance",
		TotalCopies: copies,
		Active:      true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := catalog.NewRepository(db).Insert(context.Background(), db, item); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}
