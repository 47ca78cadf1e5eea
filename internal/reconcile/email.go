package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/isometry/adbridge/internal/account"
)

const maxGeneratedEmails = 100

// EmailGenerator derives unused addresses of the form local+N@domain.
type EmailGenerator struct {
	store account.Store
}

func NewEmailGenerator(store account.Store) *EmailGenerator {
	return &EmailGenerator{store: store}
}

// Next returns the first local+N@domain, N >= 2, that is unused or already
// owned by owner.
func (g *EmailGenerator) Next(ctx context.Context, email string, owner int64) (string, error) {
	i := strings.LastIndex(email, "@")
	if i <= 0 {
		return "", fmt.Errorf("%w: cannot derive an address from %q", ErrDuplicateEmail, email)
	}
	local, domain := email[:i], email[i+1:]

	for n := 2; n < 2+maxGeneratedEmails; n++ {
		candidate := fmt.Sprintf("%s+%d@%s", local, n, domain)
		existing, err := g.store.FindByEmail(ctx, candidate)
		switch {
		case errors.Is(err, account.ErrNotFound):
			return candidate, nil
		case err != nil:
			return "", fmt.Errorf("look up %s: %w", candidate, err)
		case existing.ID == owner:
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free variant of %q", ErrDuplicateEmail, email)
}
