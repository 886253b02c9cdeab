package services

import (
	"context"
	"fmt"

	"messenger-console/cache"
	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/pkg/meta"
)

// ProfileFetcher reads a customer's public profile from the platform.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, creds meta.Credentials, userID string) (*meta.Profile, error)
}

// IdentityResolver keeps one best-known name per customer and copies it onto
// that customer's conversations.
type IdentityResolver struct {
	customers *db.CustomerRepository
	ledger    *db.Ledger
	profiles  ProfileFetcher
	cache     *cache.ProfileCache
}

func NewIdentityResolver(customers *db.CustomerRepository, ledger *db.Ledger, profiles ProfileFetcher, pc *cache.ProfileCache) *IdentityResolver {
	if pc == nil {
		pc = cache.Disabled()
	}
	return &IdentityResolver{
		customers: customers,
		ledger:    ledger,
		profiles:  profiles,
		cache:     pc,
	}
}

// Resolve ensures the customer exists, upgrades a placeholder name from the
// platform profile when possible, and syncs the name onto conv unless conv
// was renamed by hand. It returns the name the conversation now shows.
// Profile failures are logged and leave the placeholder for the next event.
func (r *IdentityResolver) Resolve(ctx context.Context, customerID string, creds meta.Credentials, conv *db.ConversationRef) (string, error) {
	customer, err := r.customers.Ensure(ctx, customerID)
	if err != nil {
		return conv.UserName, fmt.Errorf("ensure customer %s: %w", customerID, err)
	}

	name := customer.Name
	if customer.HasPlaceholderName() {
		profile, err := r.cache.GetOrFetch(ctx, customerID, func(ctx context.Context) (cache.CachedProfile, error) {
			p, err := r.profiles.FetchProfile(ctx, creds, customerID)
			if err != nil {
				return cache.CachedProfile{}, err
			}
			return cache.CachedProfile{Name: p.DisplayName(), ProfilePic: p.ProfilePic}, nil
		})
		switch {
		case err != nil:
			logger.LogWarn("Profile fetch failed for %s: %v", customerID, err)
		case profile.Name != "":
			if err := r.customers.UpdateProfile(ctx, customerID, profile.Name, profile.ProfilePic); err != nil {
				logger.LogError("Failed to store profile for %s: %v", customerID, err)
			} else {
				name = profile.Name
				logger.LogInfo("👤 Resolved customer %s as %s", customerID, name)
			}
		}
	}

	if conv.NameLocked || name == conv.UserName {
		return conv.UserName, nil
	}
	changed, err := r.ledger.SyncUserName(ctx, conv.ID, name)
	if err != nil {
		return conv.UserName, fmt.Errorf("sync conversation name: %w", err)
	}
	if changed {
		conv.UserName = name
	}
	return conv.UserName, nil
}

// RefreshPlaceholders re-runs Resolve for customers still on the placeholder
// name, using the credentials of a page each customer has talked to. It
// returns how many customers now have a real name.
func (r *IdentityResolver) RefreshPlaceholders(ctx context.Context, pages *PageCredentials, limit int) (int, error) {
	customers, err := r.customers.ListPlaceholders(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list placeholder customers: %w", err)
	}

	updated := 0
	for _, c := range customers {
		convs, err := r.ledger.ConversationsOfCustomer(ctx, c.ID)
		if err != nil {
			return updated, fmt.Errorf("load conversations of %s: %w", c.ID, err)
		}
		resolved := false
		for _, conv := range convs {
			creds, _, err := pages.Get(ctx, conv.PageID)
			if err != nil {
				logger.LogWarn("No credentials for page %s: %v", conv.PageID, err)
				continue
			}
			ref := &db.ConversationRef{ID: conv.ID, UserName: conv.UserName, NameLocked: conv.NameLocked}
			if _, err := r.Resolve(ctx, c.ID, creds, ref); err != nil {
				logger.LogWarn("Resolve failed for %s: %v", c.ID, err)
				continue
			}
			if !resolved {
				if cur, err := r.customers.Get(ctx, c.ID); err == nil && !cur.HasPlaceholderName() {
					resolved = true
				}
			}
		}
		if resolved {
			updated++
		}
	}
	return updated, nil
}
