package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// maxAuthAge bounds how long a service bind is trusted before it is redone.
const maxAuthAge = 5 * time.Minute

// connectionPool implements ConnectionPool interface.
type connectionPool struct {
	logger      hclog.Logger
	config      *ConnectionConfig
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool

	// Statistics
	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time

	// Health checking
	healthTicker *time.Ticker
	healthStop   chan struct{}
	healthWg     sync.WaitGroup
}

// NewConnectionPool creates a new connection pool. No connection is opened
// until the first Get.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig, logger hclog.Logger) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool := &connectionPool{
		logger:      logger,
		config:      config,
		connections: make(chan *PooledConnection, config.MaxConnections),
		startTime:   time.Now(),
		healthStop:  make(chan struct{}),
	}

	servers, err := resolveServers(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}
	pool.servers = servers

	if config.HealthCheck > 0 {
		pool.startHealthChecker()
	}

	logger.Debug("connection pool created",
		"servers", len(servers),
		"max_connections", config.MaxConnections,
		"auth_method", config.GetAuthMethod().String(),
	)
	return pool, nil
}

// resolveServers turns the configured hosts, or the SRV records of the
// configured domain, into an ordered server list.
func resolveServers(ctx context.Context, config *ConnectionConfig, logger hclog.Logger) ([]*ServerInfo, error) {
	var servers []*ServerInfo

	switch {
	case len(config.Hosts) > 0:
		for _, host := range config.Hosts {
			server, err := ParseHost(host, config.Port, config.Encryption)
			if err != nil {
				return nil, fmt.Errorf("invalid host %s: %w", host, err)
			}
			servers = append(servers, server)
		}
	case config.Domain != "":
		ctx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()

		discovered, err := NewSRVDiscovery(logger).DiscoverServers(ctx, config.Domain)
		if err != nil {
			return nil, err
		}
		servers = discovered
	default:
		return nil, errors.New("either domain or hosts must be specified")
	}

	if len(servers) == 0 {
		return nil, errors.New("no servers discovered")
	}
	return servers, nil
}

// Servers returns the ordered server list.
func (p *connectionPool) Servers() []*ServerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.servers
}

// Get retrieves a service-bound connection from the pool.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, errors.New("connection pool is closed")
	}
	p.mu.RUnlock()

	select {
	case conn := <-p.connections:
		if p.isConnectionHealthy(conn) {
			if p.config.HasAuthentication() && p.needsReAuthentication(conn) {
				if err := p.authenticateConnection(conn); err != nil {
					p.closeConnection(conn)
					break
				}
			}
			conn.lastUsed = time.Now()
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}
		p.closeConnection(conn)
	default:
	}

	return p.createConnection(ctx)
}

// createConnection creates a new connection with retry logic.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			conn, err := p.createSingleConnection(server)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				LogConnectionEvent(p.logger, "connection_failed", map[string]any{
					"server": server.Address(),
					"error":  err.Error(),
				})
				// A rejected service bind will not improve by retrying.
				if IsAuthenticationError(err) {
					return nil, err
				}
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
}

// createSingleConnection creates a service-bound connection to server.
func (p *connectionPool) createSingleConnection(server *ServerInfo) (*PooledConnection, error) {
	conn, err := dialServer(p.config, server)
	if err != nil {
		return nil, err
	}

	pooledConn := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if p.config.HasAuthentication() {
		if err := p.authenticateConnection(pooledConn); err != nil {
			conn.Close()
			return nil, WrapError("service_bind", err)
		}
	}

	LogConnectionEvent(p.logger, "connection_established", map[string]any{
		"server": server.Address(),
		"tls":    server.UseTLS,
	})
	return pooledConn, nil
}

// dialServer opens an unbound connection to server, upgrading with
// StartTLS when configured.
func dialServer(config *ConnectionConfig, server *ServerInfo) (*ldap.Conn, error) {
	url := ServerInfoToURL(server)
	dialer := &net.Dialer{Timeout: config.Timeout}

	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}
	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(config.tlsConfig(server.Host)))
	}

	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("failed to connect to %s", url), true, err)
	}

	if !server.UseTLS && config.Encryption == EncryptionStartTLS {
		if err := conn.StartTLS(config.tlsConfig(server.Host)); err != nil {
			conn.Close()
			return nil, NewConnectionError(fmt.Sprintf("StartTLS with %s failed", url), false, err)
		}
	}

	conn.SetTimeout(config.Timeout)
	return conn, nil
}

// authenticateConnection performs the service bind on a pooled connection.
func (p *connectionPool) authenticateConnection(pooledConn *PooledConnection) error {
	if pooledConn == nil || pooledConn.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	var err error
	switch method := p.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		err = pooledConn.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(pooledConn.conn, p.config, pooledConn.serverInfo, p.logger)
	default:
		return fmt.Errorf("unsupported authentication method: %s", method.String())
	}

	if err != nil {
		pooledConn.authenticated = false
		pooledConn.authTime = time.Time{}
		return err
	}

	pooledConn.authenticated = true
	pooledConn.authTime = time.Now()
	return nil
}

// needsReAuthentication determines if a connection needs to be re-authenticated.
func (p *connectionPool) needsReAuthentication(conn *PooledConnection) bool {
	if conn == nil || !conn.authenticated {
		return true
	}
	return time.Since(conn.authTime) > maxAuthAge
}

// returnConnection returns a connection to the pool.
func (p *connectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.closeConnection(conn)
		return
	}

	if p.isConnectionHealthy(conn) {
		select {
		case p.connections <- conn:
		default:
			p.closeConnection(conn)
		}
		return
	}
	p.closeConnection(conn)
}

// isConnectionHealthy checks if a connection is healthy.
func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy || conn.conn.IsClosing() {
		return false
	}
	if time.Since(conn.lastUsed) > p.config.MaxIdleTime {
		return false
	}
	if p.config.HasAuthentication() && !conn.authenticated {
		return false
	}
	return true
}

// closeConnection closes a pooled connection.
func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn != nil && conn.conn != nil {
		conn.conn.Close()
		conn.healthy = false
		conn.authenticated = false
		conn.authTime = time.Time{}
	}
}

// Close closes all connections and shuts down the pool.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.healthTicker != nil {
		close(p.healthStop)
		p.healthWg.Wait()
		p.healthTicker.Stop()
	}

	close(p.connections)
	for conn := range p.connections {
		p.closeConnection(conn)
	}
	return nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Total:   len(p.connections) + int(atomic.LoadInt64(&p.activeConns)),
		Active:  atomic.LoadInt64(&p.activeConns),
		Idle:    len(p.connections),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// HealthCheck verifies that a working connection can be obtained.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !p.testConnection(conn) {
		conn.healthy = false
		return NewConnectionError("health check search failed", true, nil)
	}
	return nil
}

// startHealthChecker starts the periodic health checker.
func (p *connectionPool) startHealthChecker() {
	p.healthTicker = time.NewTicker(p.config.HealthCheck)

	p.healthWg.Go(func() {
		for {
			select {
			case <-p.healthTicker.C:
				p.performHealthCheck()
			case <-p.healthStop:
				return
			}
		}
	})
}

// performHealthCheck tests up to three idle connections.
func (p *connectionPool) performHealthCheck() {
	var toCheck []*PooledConnection

healthCheckLoop:
	for range 3 {
		select {
		case conn := <-p.connections:
			toCheck = append(toCheck, conn)
		default:
			break healthCheckLoop
		}
	}

	for _, conn := range toCheck {
		// Taken from the idle channel, so account for them as active
		// before handing back.
		atomic.AddInt64(&p.activeConns, 1)
		if p.testConnection(conn) {
			p.returnConnection(conn)
		} else {
			atomic.AddInt64(&p.activeConns, -1)
			p.closeConnection(conn)
		}
	}
}

// testConnection runs a root DSE search on conn.
func (p *connectionPool) testConnection(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil {
		return false
	}

	if p.config.HasAuthentication() && p.needsReAuthentication(conn) {
		if err := p.authenticateConnection(conn); err != nil {
			return false
		}
	}

	if _, err := conn.conn.Search(rootDSERequest()); err != nil {
		conn.authenticated = false
		conn.authTime = time.Time{}
		return false
	}
	return true
}

func rootDSERequest(attributes ...string) *ldap.SearchRequest {
	if len(attributes) == 0 {
		attributes = []string{"defaultNamingContext"}
	}
	return ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		attributes,
		nil,
	)
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}
	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}
	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}
	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}
	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	if _, err := ParseEncryption(string(config.Encryption)); err != nil {
		return err
	}
	return nil
}

// Close hands the connection back to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

func (pc *PooledConnection) Conn() *ldap.Conn {
	return pc.conn
}

func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}
