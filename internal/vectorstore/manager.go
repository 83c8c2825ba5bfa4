package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	kerrors "github.com/hyperjump/kensaku/pkg/errors"
	"github.com/hyperjump/kensaku/pkg/utils"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateTenantID rejects IDs that are unsafe to use as a directory name.
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) || strings.Contains(tenantID, "..") {
		return kerrors.New(kerrors.CodeTenantInvalid,
			fmt.Sprintf("invalid tenant id %q", tenantID),
			kerrors.FieldTenant(tenantID))
	}
	return nil
}

// Manager opens tenant stores on first use and keeps them open for the life
// of the process. Opening one tenant never blocks lookups of another.
type Manager struct {
	dataDir string
	opts    StoreOptions
	logger  *zap.Logger
	open    func(tenantID, dir string, opts StoreOptions) (*TenantStore, error)

	// opening collapses concurrent first loads of the same tenant.
	opening singleflight.Group

	mu     sync.Mutex
	stores map[string]*TenantStore
	closed bool
}

// NewManager creates a manager rooted at dataDir.
func NewManager(dataDir string, opts StoreOptions) (*Manager, error) {
	if opts.Dimensions <= 0 {
		return nil, kerrors.New(kerrors.CodeVectorInvalid, "vector dimension must be positive")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeIndexUnavailable, "create data directory")
	}
	opts.Logger = utils.OrNop(opts.Logger)
	return &Manager{
		dataDir: dataDir,
		opts:    opts,
		logger:  opts.Logger,
		open:    OpenTenantStore,
		stores:  make(map[string]*TenantStore),
	}, nil
}

// Store returns the tenant's store, loading it from disk on first use. A
// caller whose context ends while the load runs gives up waiting; the load
// itself completes and is cached.
func (m *Manager) Store(ctx context.Context, tenantID string) (*TenantStore, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	closed := m.closed
	s, ok := m.stores[tenantID]
	m.mu.Unlock()
	if closed {
		return nil, m.closedError(tenantID)
	}
	if ok {
		return s, nil
	}

	ch := m.opening.DoChan(tenantID, func() (interface{}, error) {
		return m.load(tenantID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TenantStore), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load opens the tenant's files without holding m.mu and then publishes the
// store. It runs at most once at a time per tenant.
func (m *Manager) load(tenantID string) (*TenantStore, error) {
	m.mu.Lock()
	if s, ok := m.stores[tenantID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := m.open(tenantID, filepath.Join(m.dataDir, tenantID), m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = s.Close()
		return nil, m.closedError(tenantID)
	}
	m.stores[tenantID] = s
	return s, nil
}

func (m *Manager) closedError(tenantID string) error {
	return kerrors.New(kerrors.CodeIndexUnavailable, "vector store manager is closed", kerrors.FieldTenant(tenantID))
}

// Lookup returns the tenant's store only if it is already open.
func (m *Manager) Lookup(tenantID string) (*TenantStore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[tenantID]
	return s, ok
}

// Tenants lists every tenant with a directory on disk or an open store.
func (m *Manager) Tenants() []string {
	seen := make(map[string]struct{})
	if entries, err := os.ReadDir(m.dataDir); err == nil {
		for _, e := range entries {
			if e.IsDir() && ValidateTenantID(e.Name()) == nil {
				seen[e.Name()] = struct{}{}
			}
		}
	} else {
		m.logger.Warn("failed to list data directory", zap.String("dir", m.dataDir), zap.Error(err))
	}

	m.mu.Lock()
	for id := range m.stores {
		seen[id] = struct{}{}
	}
	m.mu.Unlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats returns the health of every tenant. Tenants that are not open are
// reported with Loaded=false.
func (m *Manager) Stats() []Health {
	tenants := m.Tenants()
	out := make([]Health, 0, len(tenants))
	for _, id := range tenants {
		if s, ok := m.Lookup(id); ok {
			out = append(out, s.HealthCheck())
			continue
		}
		out = append(out, Health{TenantID: id})
	}
	return out
}

// DataDir returns the root directory holding tenant stores.
func (m *Manager) DataDir() string {
	return m.dataDir
}

// Dimensions returns the vector dimension of every store.
func (m *Manager) Dimensions() int {
	return m.opts.Dimensions
}

// Close persists dirty stores and releases them.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for id, s := range m.stores {
		if s.Dirty() {
			if err := s.Persist(context.Background()); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %s: %w", id, err))
		}
	}
	m.stores = nil
	return kerrors.Join(errs...)
}
