package library

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campuslib/internal/eventstore"
	"campuslib/internal/store/storetest"
)

func central() NewLibrary {
	return NewLibrary{
		Code:    "Central",
		Name:    "Biblioteca Central",
		Address: "Av. Universitária, 1000",
		Phone:   "(11) 3091-2000",
		Email:   "central@uni.edu",
	}
}

func TestCreateAndFind(t *testing.T) {
	db := storetest.New(t)
	repo := NewRepository(db)
	svc := NewService(db, eventstore.New(db), repo, zaptest.NewLogger(t))
	ctx := context.Background()

	l, err := svc.Create(ctx, central())
	require.NoError(t, err)
	assert.Equal(t, "central", l.Code)
	assert.Equal(t, StatusOpen, l.Status)

	found, err := svc.FindByName(ctx, " Biblioteca Central ")
	require.NoError(t, err)
	assert.Equal(t, l.ID, found.ID)
	_, err = svc.FindByName(ctx, "Biblioteca Setorial")
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	dup := central()
	dup.Code = "other"
	_, err = svc.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateLibrary)

	annex := central()
	annex.Code = "annex"
	annex.Name = "Anexo de Engenharia"
	_, err = svc.Create(ctx, annex)
	require.NoError(t, err)

	list, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Anexo de Engenharia", list[0].Name)

	events, err := eventstore.New(db).LoadEvents(ctx, l.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "LibraryRegistered", events[0].EventType)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		change func(*NewLibrary)
	}{
		{"short name", func(n *NewLibrary) { n.Name = "BC" }},
		{"short address", func(n *NewLibrary) { n.Address = "Rua A" }},
		{"few phone digits", func(n *NewLibrary) { n.Phone = "3091-2000" }},
		{"email without at", func(n *NewLibrary) { n.Email = "central.uni.edu" }},
		{"code with spaces", func(n *NewLibrary) { n.Code = "bib central" }},
	}

	db := storetest.New(t)
	svc := NewService(db, eventstore.New(db), NewRepository(db), zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := central()
			tt.change(&in)
			_, err := svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidLibrary)
		})
	}
}

func TestStatusControlsLending(t *testing.T) {
	db := storetest.New(t)
	repo := NewRepository(db)
	svc := NewService(db, eventstore.New(db), repo, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.NoError(t, CheckLending(ctx, repo, db, "unregistered"), "unknown codes lend")

	l, err := svc.Create(ctx, central())
	require.NoError(t, err)
	require.NoError(t, CheckLending(ctx, repo, db, "central"))

	closed, err := svc.SetStatus(ctx, l.ID, StatusMaintenance)
	require.NoError(t, err)
	assert.Equal(t, 2, closed.Version)
	assert.ErrorIs(t, CheckLending(ctx, repo, db, "central"), ErrLibraryClosed)

	open, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = svc.SetStatus(ctx, l.ID, "demolished")
	assert.ErrorIs(t, err, ErrInvalidLibrary)
	_, err = svc.SetStatus(ctx, uuid.New(), StatusOpen)
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	_, err = svc.SetStatus(ctx, l.ID, StatusOpen)
	require.NoError(t, err)
	assert.NoError(t, CheckLending(ctx, repo, db, "central"))
}
