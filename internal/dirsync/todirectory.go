package dirsync

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/ldap"
)

// TargetDirectory is what ToDirectory needs from the directory.
type TargetDirectory interface {
	ServiceBound() bool
	CheckPorts(ctx context.Context) error
	DomainSID(ctx context.Context) (string, error)
	ModifyAttributes(ctx context.Context, guid string, attrs map[string][]string) error
}

type ToDirectoryConfig struct {
	// Attributes lists the directory attributes that may be written back.
	Attributes       []string
	// Captured lists the attributes copied into local accounts. Only these
	// hold local values, so Attributes outside it are never written.
	Captured         []string
	RateLimit        float64
	MaxExecutionTime time.Duration
}

// ToDirectory writes locally held attribute values back to the directory
// objects that local accounts are linked to.
type ToDirectory struct {
	dir    TargetDirectory
	store  account.Store
	config ToDirectoryConfig
	logger hclog.Logger
}

func NewToDirectory(dir TargetDirectory, store account.Store, config ToDirectoryConfig, logger hclog.Logger) *ToDirectory {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var writable []string
	for _, name := range config.Attributes {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !slices.ContainsFunc(config.Captured, func(c string) bool {
			return strings.EqualFold(strings.TrimSpace(c), name)
		}) {
			logger.Warn("attribute is not captured locally and will not be written back", "attribute", name)
			continue
		}
		writable = append(writable, name)
	}
	config.Attributes = writable

	return &ToDirectory{
		dir:    dir,
		store:  store,
		config: config,
		logger: logger,
	}
}

// Run pushes attributes for every linked account in the directory's domain.
func (s *ToDirectory) Run(ctx context.Context) (summary Summary, err error) {
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	if !s.dir.ServiceBound() {
		return summary, ldap.ErrNoServiceCredentials
	}
	if len(s.config.Attributes) == 0 {
		s.logger.Info("sync to directory skipped, no attributes configured")
		return summary, nil
	}

	if s.config.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaxExecutionTime)
		defer cancel()
	}

	if err := s.dir.CheckPorts(ctx); err != nil {
		return summary, fmt.Errorf("sync to directory: %w", err)
	}
	domainSID, err := s.dir.DomainSID(ctx)
	if err != nil {
		return summary, fmt.Errorf("sync to directory: %w", err)
	}
	accounts, err := s.store.ListLinked(ctx)
	if err != nil {
		return summary, fmt.Errorf("sync to directory: list linked accounts: %w", err)
	}
	s.logger.Info("sync to directory started", "accounts", len(accounts), "domain_sid", domainSID)

	limiter := newLimiter(s.config.RateLimit)
	for _, acct := range accounts {
		if !strings.EqualFold(acct.MetaValue(account.MetaDomainSID), domainSID) {
			s.logger.Trace("skipping account from another domain", "account_id", acct.ID)
			summary.record(OutcomeSkipped)
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return summary, fmt.Errorf("sync to directory interrupted after %d users: %w", summary.Total(), err)
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("sync to directory interrupted after %d users: %w", summary.Total(), err)
		}

		guid := acct.MetaValue(account.MetaObjectGUID)
		if err := s.dir.ModifyAttributes(ctx, guid, s.attributesFor(acct)); err != nil {
			s.logger.Warn("attribute write-back failed", "account_id", acct.ID, "objectguid", guid, "error", err)
			summary.record(OutcomeFailed)
			continue
		}
		summary.record(OutcomeUpdated)
	}

	s.logger.Info("sync to directory finished",
		"updated", summary.Updated, "skipped", summary.Skipped, "failed", summary.Failed,
		"elapsed", time.Since(start))
	return summary, nil
}

// attributesFor collects the configured attributes from acct. Missing values
// become empty slices, which clear the attribute in the directory.
func (s *ToDirectory) attributesFor(acct *account.Account) map[string][]string {
	attrs := make(map[string][]string, len(s.config.Attributes))
	for _, name := range s.config.Attributes {
		value := acct.MetaValue(account.AttributeKey(name))
		if value == "" {
			attrs[name] = []string{}
			continue
		}
		attrs[name] = strings.Split(value, "\n")
	}
	return attrs
}
