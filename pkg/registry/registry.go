// Package registry is the durable record of the repositories each owner has
// registered with the gateway.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/greg-hellings/repogateway/pkg/repository"
)

// Repository is one registered repository row.
type Repository struct {
	ID            int64               `json:"id" yaml:"id"`
	OwnerID       string              `json:"owner_id" yaml:"owner_id"`
	Provider      repository.Provider `json:"provider" yaml:"provider"`
	Name          string              `json:"name" yaml:"name"`
	Owner         string              `json:"owner" yaml:"owner"`
	URL           string              `json:"url" yaml:"url"`
	ExternalID    string              `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	Description   string              `json:"description,omitempty" yaml:"description,omitempty"`
	Languages     []string            `json:"languages,omitempty" yaml:"languages,omitempty"`
	DefaultBranch string              `json:"default_branch,omitempty" yaml:"default_branch,omitempty"`
	AvatarURL     string              `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	HTMLURL       string              `json:"html_url,omitempty" yaml:"html_url,omitempty"`
	CreatedAt     time.Time           `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" yaml:"updated_at"`
}

// FullName returns "owner/name".
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// RegisterInput is what a caller supplies to register a repository.
// ExternalID and Description are optional.
type RegisterInput struct {
	Provider    repository.Provider
	Name        string
	Owner       string
	URL         string
	ExternalID  string
	Description string
}

// Registry validates input and applies the upsert rules on top of a Store.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// mu serializes the find-then-write sequence of Register for
	// in-process backends.
	mu sync.Mutex
}

// New creates a registry over store. A nil logger uses slog.Default().
func New(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger, now: time.Now}
}

// Register creates the repository or updates the one it matches, returning its
// id. Matching runs in two passes: first by external id when one is given,
// then by (provider, owner, name). If the passes match two different rows the
// call fails with KindInvalid instead of merging them.
func (r *Registry) Register(ctx context.Context, ownerID string, in RegisterInput) (int64, error) {
	const op = "register"
	in = normalizeInput(in)
	if err := validateInput(ownerID, in); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var byExternal *Repository
	if in.ExternalID != "" {
		found, err := r.store.FindByExternalID(ctx, ownerID, in.Provider, in.ExternalID)
		if err != nil && !errors.Is(err, ErrNoRecord) {
			return 0, fmt.Errorf("registry: find by external id: %w", err)
		}
		byExternal = found
	}
	byName, err := r.store.FindByName(ctx, ownerID, in.Provider, in.Owner, in.Name)
	if err != nil && !errors.Is(err, ErrNoRecord) {
		return 0, fmt.Errorf("registry: find by name: %w", err)
	}

	now := r.now().UTC()
	switch {
	case byExternal != nil && byName != nil && byExternal.ID != byName.ID:
		return 0, invalid(in.Provider, op, fmt.Sprintf(
			"external id %s belongs to repository %d but %s/%s is repository %d",
			in.ExternalID, byExternal.ID, in.Owner, in.Name, byName.ID))

	case byExternal != nil:
		if byExternal.Owner != in.Owner || byExternal.Name != in.Name {
			r.logger.Warn("registered repository was renamed upstream",
				"id", byExternal.ID, "provider", in.Provider,
				"from", byExternal.FullName(), "to", in.Owner+"/"+in.Name)
		}
		return r.update(ctx, op, byExternal, in, now)

	case byName != nil:
		if in.ExternalID != "" && byName.ExternalID != "" && byName.ExternalID != in.ExternalID {
			r.logger.Warn("external id of registered repository changed",
				"id", byName.ID, "provider", in.Provider, "repo", byName.FullName())
		}
		return r.update(ctx, op, byName, in, now)
	}

	row := &Repository{
		OwnerID:     ownerID,
		Provider:    in.Provider,
		Name:        in.Name,
		Owner:       in.Owner,
		URL:         in.URL,
		ExternalID:  in.ExternalID,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := r.store.Insert(ctx, row)
	if err != nil {
		return 0, r.storeError(in.Provider, op, err)
	}
	r.logger.Debug("repository registered", "id", id, "provider", in.Provider, "repo", row.FullName())
	return id, nil
}

func (r *Registry) update(ctx context.Context, op string, row *Repository, in RegisterInput, now time.Time) (int64, error) {
	row.Name = in.Name
	row.Owner = in.Owner
	row.URL = in.URL
	if in.ExternalID != "" {
		row.ExternalID = in.ExternalID
	}
	if in.Description != "" {
		row.Description = in.Description
	}
	row.UpdatedAt = now
	if err := r.store.Update(ctx, row); err != nil {
		return 0, r.storeError(in.Provider, op, err)
	}
	return row.ID, nil
}

// Get returns the repository if it belongs to ownerID. Rows of other owners
// are reported exactly like missing rows.
func (r *Registry) Get(ctx context.Context, id int64, ownerID string) (*Repository, error) {
	row, err := r.store.Get(ctx, id, ownerID)
	if err != nil {
		return nil, r.storeError("", "get repository", err)
	}
	return row, nil
}

// List returns the owner's repositories ordered by provider, then name.
func (r *Registry) List(ctx context.Context, ownerID string) ([]Repository, error) {
	rows, err := r.store.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	SortRepositories(rows)
	return rows, nil
}

// Delete removes the repository and reports whether a row was deleted.
func (r *Registry) Delete(ctx context.Context, id int64, ownerID string) (bool, error) {
	deleted, err := r.store.Delete(ctx, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("registry: delete: %w", err)
	}
	return deleted, nil
}

// ApplyMetadata overwrites the provider-derived fields of a row. The external
// id is only filled in when the row has none yet.
func (r *Registry) ApplyMetadata(ctx context.Context, id int64, ownerID string, meta *repository.RepoMetadata) (*Repository, error) {
	const op = "apply metadata"
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.store.Get(ctx, id, ownerID)
	if err != nil {
		return nil, r.storeError("", op, err)
	}
	row.Description = meta.Description
	row.Languages = append([]string(nil), meta.Languages...)
	row.DefaultBranch = meta.DefaultBranch
	row.AvatarURL = meta.AvatarURL
	row.HTMLURL = meta.HTMLURL
	if row.ExternalID == "" {
		row.ExternalID = meta.ExternalID
	}
	row.UpdatedAt = r.now().UTC()

	if err := r.store.Update(ctx, row); err != nil {
		return nil, r.storeError(row.Provider, op, err)
	}
	return row, nil
}

// SortRepositories orders rows by provider, then name, then owner.
func SortRepositories(rows []Repository) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.ID < b.ID
	})
}

func (r *Registry) storeError(p repository.Provider, op string, err error) error {
	switch {
	case errors.Is(err, ErrNoRecord):
		return &repository.Error{Kind: repository.KindNotFound, Provider: p, Op: op, Message: "repository not registered"}
	case errors.Is(err, ErrConflict):
		return &repository.Error{Kind: repository.KindInvalid, Provider: p, Op: op, Message: "conflicts with another registered repository", Err: err}
	}
	return fmt.Errorf("registry: %s: %w", op, err)
}

func invalid(p repository.Provider, op, msg string) error {
	return &repository.Error{Kind: repository.KindInvalid, Provider: p, Op: op, Message: msg}
}

func normalizeInput(in RegisterInput) RegisterInput {
	in.Provider = repository.Provider(strings.ToLower(strings.TrimSpace(string(in.Provider))))
	in.Name = strings.TrimSpace(in.Name)
	in.Owner = strings.Trim(strings.TrimSpace(in.Owner), "/")
	in.URL = strings.TrimSpace(in.URL)
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.Description = strings.TrimSpace(in.Description)
	return in
}

func validateInput(ownerID string, in RegisterInput) error {
	const op = "register"
	if strings.TrimSpace(ownerID) == "" {
		return invalid(in.Provider, op, "owner id is required")
	}
	if !in.Provider.Valid() {
		return invalid(in.Provider, op, fmt.Sprintf("unsupported provider %q", in.Provider))
	}
	if in.Owner == "" {
		return invalid(in.Provider, op, "repository owner is required")
	}
	if in.Name == "" || strings.Contains(in.Name, "/") {
		return invalid(in.Provider, op, "repository name is required and cannot contain '/'")
	}
	u, err := url.Parse(in.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(in.Provider, op, "url must be an absolute http(s) URL")
	}
	return nil
}
