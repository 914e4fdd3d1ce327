package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"
)

type fixture struct {
	store *store.MemoryStore
	loans *LoanService
	items *ItemService
	auth  *AuthService

	admin models.Identity
	alice models.Identity
	bob   models.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	f := &fixture{
		store: s,
		loans: NewLoanService(s),
		items: NewItemService(s),
		auth:  NewAuthService(s).WithCost(4),
	}
	f.admin = f.user(t, "root", models.RoleAdmin)
	f.alice = f.user(t, "alice", models.RoleUser)
	f.bob = f.user(t, "bob", models.RoleUser)
	return f
}

func (f *fixture) user(t *testing.T, name string, role models.Role) models.Identity {
	t.Helper()
	u := &models.User{Username: name, PasswordHash: "x", Role: role}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return models.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func (f *fixture) item(t *testing.T, serial string) *models.Item {
	t.Helper()
	it, err := f.items.Create(context.Background(), ItemInput{Name: "Item " + serial, SerialNumber: serial})
	require.NoError(t, err)
	return it
}

func (f *fixture) status(t *testing.T, id uint) models.ItemStatus {
	t.Helper()
	it, err := f.store.FindItemByID(context.Background(), id)
	require.NoError(t, err)
	return it.Status
}

func (f *fixture) openRecords(t *testing.T, itemID uint) int64 {
	t.Helper()
	page, err := f.store.ListRecords(context.Background(), store.RecordQuery{ItemID: itemID, Status: store.RecordsOpen})
	require.NoError(t, err)
	return page.Total
}
