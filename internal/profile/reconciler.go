package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/models"
	"github.com/rs/zerolog/log"
)

// Backend is the subset of the REST API the reconciler needs.
type Backend interface {
	Get(ctx context.Context, accessToken, userID string) (*Profile, error)
	Create(ctx context.Context, accessToken string, p *Profile) (*Profile, error)
	UpdateShop(ctx context.Context, accessToken, userID, shopID string) (*Profile, error)
	FindStaffLink(ctx context.Context, accessToken, email string) (*models.StaffLink, error)
}

var _ Backend = (*Client)(nil)

// Reconciler keeps the session user in step with the authoritative profile.
type Reconciler struct {
	backend Backend
}

// NewReconciler creates a reconciler over backend.
func NewReconciler(backend Backend) *Reconciler {
	return &Reconciler{backend: backend}
}

// Reconcile fetches the profile for cached.ID and merges it into a copy of
// cached. On failure the copy is returned unchanged together with an error
// wrapping auth.ErrProfileFetchFailed; callers treat that as non-fatal.
func (r *Reconciler) Reconcile(ctx context.Context, cached *models.User, accessToken string) (*models.User, error) {
	if cached == nil || cached.ID == "" {
		return nil, errors.New("user id is required")
	}

	p, err := r.backend.Get(ctx, accessToken, cached.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Debug().Str("user_id", cached.ID).Msg("no profile row, keeping cached user")
			return cached.Clone(), fmt.Errorf("%w: %w", auth.ErrProfileFetchFailed, err)
		}
		return cached.Clone(), err
	}

	return Merge(cached, p), nil
}

// Merge overlays the non-null columns of p onto a copy of cached. A field
// the profile does not carry keeps its cached value. In particular a null or
// empty shop_id never clears the cached shop: removing a user from a shop
// does not reach an existing session until it is re-established.
func Merge(cached *models.User, p *Profile) *models.User {
	u := cached.Clone()
	if p == nil {
		return u
	}

	if p.FullName != nil && *p.FullName != "" {
		u.FullName = *p.FullName
	}
	if p.Role != "" {
		if p.Role.IsValid() {
			u.Role = p.Role
		} else {
			log.Warn().Str("user_id", u.ID).Str("role", string(p.Role)).Msg("ignoring unknown profile role")
		}
	}
	if p.ShopID != nil && *p.ShopID != "" {
		shop := *p.ShopID
		u.ShopID = &shop
	}
	if p.IsPlatformAdmin != nil {
		u.IsPlatformAdmin = *p.IsPlatformAdmin
	}
	if p.CreatedAt != nil {
		created := *p.CreatedAt
		u.CreatedAt = &created
	}
	if u.Email == "" && p.Email != "" {
		u.Email = p.Email
	}
	return u
}

// Seed describes an identity a profile may have to be provisioned for.
type Seed struct {
	UserID   string
	Email    string
	FullName string
}

// Ensure returns the profile for seed.UserID, creating a minimal one when
// none exists. A new profile gets the lowest-privilege role unless a staff
// record for the same email exists, in which case it gets the staff role and
// that record's shop.
func (r *Reconciler) Ensure(ctx context.Context, accessToken string, seed Seed) (*Profile, bool, error) {
	existing, err := r.backend.Get(ctx, accessToken, seed.UserID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	p := &Profile{
		UserID: seed.UserID,
		Email:  seed.Email,
		Role:   models.LowestPrivilegeRole,
	}
	if seed.FullName != "" {
		name := seed.FullName
		p.FullName = &name
	}

	link, err := r.backend.FindStaffLink(ctx, accessToken, seed.Email)
	if err != nil {
		// A failed lookup must not grant anything beyond the default role.
		log.Warn().Err(err).Str("user_id", seed.UserID).Msg("staff link lookup failed")
	}
	if link != nil && (link.UserID == nil || *link.UserID == "" || *link.UserID == seed.UserID) {
		p.Role = models.StaffRole
		if link.ShopID != nil && *link.ShopID != "" {
			shop := *link.ShopID
			p.ShopID = &shop
		}
	}

	created, err := r.backend.Create(ctx, accessToken, p)
	if err != nil {
		return nil, false, err
	}

	log.Info().
		Str("user_id", seed.UserID).
		Str("role", string(created.Role)).
		Msg("provisioned profile")

	return created, true, nil
}

// AssignShop binds the user to shopID and returns the updated user.
func (r *Reconciler) AssignShop(ctx context.Context, user *models.User, accessToken, shopID string) (*models.User, error) {
	if shopID == "" {
		return nil, errors.New("shop id is required")
	}
	p, err := r.backend.UpdateShop(ctx, accessToken, user.ID, shopID)
	if err != nil {
		return nil, err
	}

	u := Merge(user, p)
	shop := shopID
	u.ShopID = &shop
	return u, nil
}
