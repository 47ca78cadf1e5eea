package reconcile

import (
	"context"

	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/identity"
)

// matcher finds a candidate local account. It returns account.ErrNotFound
// to let the next matcher try.
type matcher struct {
	name string
	find func(ctx context.Context, store account.Store, creds identity.Credentials) (*account.Account, error)
}

// Ordered strongest link first.
var matchers = []matcher{
	{
		name: "objectguid",
		find: func(ctx context.Context, store account.Store, c identity.Credentials) (*account.Account, error) {
			if c.ObjectGUID == "" {
				return nil, account.ErrNotFound
			}
			return store.FindByMeta(ctx, account.MetaObjectGUID, c.ObjectGUID)
		},
	},
	{
		name: "samaccountname",
		find: func(ctx context.Context, store account.Store, c identity.Credentials) (*account.Account, error) {
			return store.FindByMeta(ctx, account.MetaSAMAccountName, c.SAMAccountName)
		},
	},
	{
		name: "userprincipalname",
		find: func(ctx context.Context, store account.Store, c identity.Credentials) (*account.Account, error) {
			return store.FindByLogin(ctx, c.UserPrincipalName())
		},
	},
	{
		name: "login",
		find: func(ctx context.Context, store account.Store, c identity.Credentials) (*account.Account, error) {
			return store.FindByLogin(ctx, c.SAMAccountName)
		},
	},
}
