// Package s3conn tracks live S3 connections per session.
//
// A session attaches to a stored profile to get a storage adapter bound to
// that profile's bucket and prefix. The registry caps the number of DISTINCT
// profiles connected across all sessions; many sessions sharing one profile
// count once.
package s3conn

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/s3config"
	s3store "github.com/filehaven/filehaven/pkg/storage/s3"
)

var (
	// ErrNotConnected is returned when a session references a profile it has
	// not attached to.
	ErrNotConnected = errors.New("not connected to this s3 configuration")

	// ErrAtLimit is returned when attaching would exceed the global cap on
	// distinct connected configurations.
	ErrAtLimit = errors.New("too many distinct s3 configurations connected")
)

// DialFunc builds an adapter for a profile. Injectable for tests.
type DialFunc func(ctx context.Context, profile s3config.Profile) (*s3store.Adapter, error)

// DefaultDial connects with the AWS SDK client.
func DefaultDial(ctx context.Context, profile s3config.Profile) (*s3store.Adapter, error) {
	client, err := s3store.NewClient(ctx, s3store.ClientConfig{
		Region:          profile.Region,
		Endpoint:        profile.Endpoint,
		AccessKeyID:     profile.AccessKeyID,
		SecretAccessKey: profile.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return s3store.New(client, profile.Bucket, profile.Prefix), nil
}

// Registry holds the attached adapters, keyed by session then profile id.
type Registry struct {
	mu         sync.Mutex
	maxConfigs int
	dial       DialFunc
	sessions   map[string]map[string]*s3store.Adapter
}

// NewRegistry creates a registry. maxConfigs <= 0 means unlimited.
func NewRegistry(maxConfigs int, dial DialFunc) *Registry {
	if dial == nil {
		dial = DefaultDial
	}
	return &Registry{
		maxConfigs: maxConfigs,
		dial:       dial,
		sessions:   make(map[string]map[string]*s3store.Adapter),
	}
}

// Attach connects the session to the profile. Re-attaching to an already
// connected profile returns the existing adapter.
func (r *Registry) Attach(ctx context.Context, sessionID string, profile s3config.Profile) (*s3store.Adapter, error) {
	r.mu.Lock()
	if conns, ok := r.sessions[sessionID]; ok {
		if adapter, ok := conns[profile.ID]; ok {
			r.mu.Unlock()
			return adapter, nil
		}
	}
	if r.maxConfigs > 0 && !r.connectedLocked(profile.ID) && r.distinctLocked() >= r.maxConfigs {
		r.mu.Unlock()
		return nil, ErrAtLimit
	}
	r.mu.Unlock()

	// Dial outside the lock; the cap is re-checked before recording.
	adapter, err := r.dial(ctx, profile)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conns, ok := r.sessions[sessionID]; ok {
		if existing, ok := conns[profile.ID]; ok {
			return existing, nil
		}
	}
	if r.maxConfigs > 0 && !r.connectedLocked(profile.ID) && r.distinctLocked() >= r.maxConfigs {
		return nil, ErrAtLimit
	}
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]*s3store.Adapter)
	}
	r.sessions[sessionID][profile.ID] = adapter
	logger.Debug("s3 connection attached", "config_id", profile.ID)
	return adapter, nil
}

// MaxConfigs returns the process-wide distinct profile cap. 0 means
// unlimited.
func (r *Registry) MaxConfigs() int {
	if r.maxConfigs <= 0 {
		return 0
	}
	return r.maxConfigs
}

// Detach disconnects the session from the profile.
func (r *Registry) Detach(sessionID, configID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotConnected
	}
	if _, ok := conns[configID]; !ok {
		return ErrNotConnected
	}
	delete(conns, configID)
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
	return nil
}

// DetachAll drops every connection held by the session.
func (r *Registry) DetachAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// OnProfileDeleted drops the profile's connections from every session.
func (r *Registry) OnProfileDeleted(configID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sessionID, conns := range r.sessions {
		if _, ok := conns[configID]; ok {
			delete(conns, configID)
			if len(conns) == 0 {
				delete(r.sessions, sessionID)
			}
		}
	}
}

// Resolve returns the adapter the session attached for the profile.
func (r *Registry) Resolve(sessionID, configID string) (*s3store.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.sessions[sessionID]; ok {
		if adapter, ok := conns[configID]; ok {
			return adapter, nil
		}
	}
	return nil, ErrNotConnected
}

// Connections returns the profile ids the session is attached to, sorted.
func (r *Registry) Connections(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sessions[sessionID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) connectedLocked(configID string) bool {
	for _, conns := range r.sessions {
		if _, ok := conns[configID]; ok {
			return true
		}
	}
	return false
}

func (r *Registry) distinctLocked() int {
	seen := map[string]bool{}
	for _, conns := range r.sessions {
		for id := range conns {
			seen[id] = true
		}
	}
	return len(seen)
}
