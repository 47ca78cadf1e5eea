package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

const (
	pageSize          = 1000
	maxSearchDuration = 30 * time.Minute
	maxPagesPerSearch = 1000
)

// Client provides the LDAP operations the directory adapter needs.
type Client interface {
	// CheckPorts reports whether at least one server accepts TCP connections.
	CheckPorts(ctx context.Context) error
	// Bind verifies a user's password on a dedicated connection that is
	// never returned to the pool.
	Bind(ctx context.Context, username, password string) error

	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Modify(ctx context.Context, req *ModifyRequest) error

	// BaseDN returns the configured base DN or the server's default naming context.
	BaseDN(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Stats() PoolStats
	Close() error
}

// client implements the Client interface.
type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
	logger hclog.Logger
}

// NewClient creates a new LDAP client with connection pooling.
func NewClient(ctx context.Context, config *ConnectionConfig, logger hclog.Logger) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	start := time.Now()
	pool, err := NewConnectionPool(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	logger.Info("LDAP client created",
		"duration_ms", time.Since(start).Milliseconds(),
		"hosts", config.Hosts,
		"encryption", string(config.Encryption),
		"auth_method", config.GetAuthMethod().String(),
	)

	return &client{
		pool:   pool,
		config: config,
		logger: logger,
	}, nil
}

// CheckPorts dials each server until one answers.
func (c *client) CheckPorts(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: c.config.Timeout}

	var errs []error
	for _, server := range c.pool.Servers() {
		conn, err := dialer.DialContext(ctx, "tcp", server.Address())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conn.Close()
		return nil
	}
	return NewConnectionError("no directory server reachable", true, errors.Join(errs...))
}

// Bind dials the first reachable server and binds as username.
func (c *client) Bind(ctx context.Context, username, password string) error {
	if password == "" {
		// An empty password would perform an unauthenticated bind, which
		// servers accept.
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("empty password"))
	}

	var lastErr error
	for _, server := range c.pool.Servers() {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := dialServer(c.config, server)
		if err != nil {
			lastErr = err
			continue
		}

		err = LogOperation(c.logger, "user_bind", map[string]any{
			"server":   server.Address(),
			"username": username,
		}, func() error {
			return conn.Bind(username, password)
		})
		conn.Close()
		return err
	}
	return NewConnectionError("no directory server reachable for bind", true, lastErr)
}

// Search performs an LDAP search.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"size_limit": req.SizeLimit,
	}

	var searchResult *SearchResult
	err := LogOperation(c.logger, "search", fields, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		ldapReq := toLDAPSearchRequest(req, req.SizeLimit, nil)

		var result *ldap.SearchResult
		err = c.withRetry(ctx, func() error {
			var searchErr error
			result, searchErr = conn.Conn().Search(ldapReq)
			return searchErr
		})
		if err != nil {
			// No such object on the base DN is an empty result, not a failure.
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				searchResult = &SearchResult{}
				return nil
			}
			return WrapError("search", err)
		}

		searchResult = &SearchResult{
			Entries: result.Entries,
			Total:   len(result.Entries),
			HasMore: req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return searchResult, nil
}

// SearchWithPaging performs an LDAP search with automatic pagination.
// Runaway searches are cut off by duration and page count and report
// HasMore.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	start := time.Now()
	log := c.logger.With("base_dn", req.BaseDN, "filter", req.Filter)

	conn, err := c.pool.Get(ctx)
	if err != nil {
		LogLDAPError(c.logger, "get_connection", err, nil)
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var allEntries []*ldap.Entry
	pagingControl := ldap.NewControlPaging(pageSize)
	pageNum := 0

	for {
		elapsed := time.Since(start)
		if elapsed > maxSearchDuration || pageNum >= maxPagesPerSearch {
			log.Error("paged search exceeded its limits, terminating",
				"pages_completed", pageNum,
				"entries_found", len(allEntries),
				"elapsed", elapsed.String(),
			)
			return &SearchResult{Entries: allEntries, Total: len(allEntries), HasMore: true}, nil
		}

		if err := ctx.Err(); err != nil {
			log.Warn("paged search cancelled", "pages_completed", pageNum, "error", err)
			return &SearchResult{Entries: allEntries, Total: len(allEntries), HasMore: true}, err
		}

		pageNum++
		ldapReq := toLDAPSearchRequest(req, 0, []ldap.Control{pagingControl})

		var result *ldap.SearchResult
		err = c.withRetry(ctx, func() error {
			var searchErr error
			result, searchErr = conn.Conn().Search(ldapReq)
			return searchErr
		})
		if err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				return &SearchResult{}, nil
			}
			LogLDAPError(c.logger, "paged_search", err, map[string]any{"page_number": pageNum})
			return nil, WrapError("paged_search", err)
		}

		allEntries = append(allEntries, result.Entries...)
		log.Trace("completed search page", "page_number", pageNum, "entries_in_page", len(result.Entries))

		responseControl, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(responseControl.Cookie) == 0 {
			break
		}
		pagingControl.SetCookie(responseControl.Cookie)
	}

	log.Debug("paged search completed",
		"total_entries", len(allEntries),
		"pages_processed", pageNum,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &SearchResult{Entries: allEntries, Total: len(allEntries)}, nil
}

func toLDAPSearchRequest(req *SearchRequest, sizeLimit int, controls []ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		sizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		controls,
	)
}

// Modify replaces attributes on an existing entry.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}
	if req.DN == "" {
		return fmt.Errorf("DN cannot be empty")
	}
	if len(req.ReplaceAttributes) == 0 {
		return nil
	}

	return LogOperation(c.logger, "modify", map[string]any{
		"dn":         req.DN,
		"attributes": len(req.ReplaceAttributes),
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		ldapReq := ldap.NewModifyRequest(req.DN, nil)
		for attr, values := range req.ReplaceAttributes {
			if values == nil {
				values = []string{}
			}
			ldapReq.Replace(attr, values)
		}

		return WrapError("modify", c.withRetry(ctx, func() error {
			return conn.Conn().Modify(ldapReq)
		}))
	})
}

// Ping tests connectivity to the LDAP server.
func (c *client) Ping(ctx context.Context) error {
	return c.pool.HealthCheck(ctx)
}

// BaseDN retrieves the base DN from configuration or the root DSE.
func (c *client) BaseDN(ctx context.Context) (string, error) {
	if c.config.BaseDN != "" {
		return c.config.BaseDN, nil
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	result, err := conn.Conn().Search(rootDSERequest("defaultNamingContext"))
	if err != nil {
		return "", WrapError("root_dse", err)
	}
	if len(result.Entries) == 0 {
		return "", fmt.Errorf("no root DSE found")
	}

	baseDN := result.Entries[0].GetAttributeValue("defaultNamingContext")
	if baseDN == "" {
		return "", fmt.Errorf("no defaultNamingContext found in root DSE")
	}
	return baseDN, nil
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// withRetry executes an operation with retry logic.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying operation",
				"attempt", attempt,
				"max_retry", c.config.MaxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"last_error", lastErr.Error(),
			)
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// isRetryable determines if an error should be retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return isLDAPCodeRetryable(resultErr.ResultCode)
	}
	return IsRetryableError(err)
}
