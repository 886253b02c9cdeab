package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"messenger-console/db"
	"messenger-console/pkg/cache"
	"messenger-console/pkg/meta"
)

const credentialsTTL = 5 * time.Minute

var ErrUnknownPage = errors.New("page is not registered")

// PageCredentials looks up page access tokens, keeping them in memory for a
// few minutes since every webhook and send needs one.
type PageCredentials struct {
	pages *db.PageRepository
	cache *cache.Cache
}

func NewPageCredentials(pages *db.PageRepository, c *cache.Cache) *PageCredentials {
	if c == nil {
		c = cache.New()
	}
	return &PageCredentials{pages: pages, cache: c}
}

type pageEntry struct {
	creds meta.Credentials
	name  string
}

// Get returns the credentials and display name for pageID.
func (pc *PageCredentials) Get(ctx context.Context, pageID string) (meta.Credentials, string, error) {
	key := "page:" + pageID
	if v, ok := pc.cache.Get(key); ok {
		e := v.(pageEntry)
		return e.creds, e.name, nil
	}

	page, err := pc.pages.Get(ctx, pageID)
	if err != nil {
		if db.IsNotFound(err) {
			return meta.Credentials{}, "", ErrUnknownPage
		}
		return meta.Credentials{}, "", fmt.Errorf("load page %s: %w", pageID, err)
	}
	e := pageEntry{
		creds: meta.Credentials{PageID: page.ID, AccessToken: page.AccessToken},
		name:  page.Name,
	}
	pc.cache.SetWithTTL(key, e, credentialsTTL)
	return e.creds, e.name, nil
}

// Invalidate drops a cached page after it is edited or deleted.
func (pc *PageCredentials) Invalidate(pageID string) {
	pc.cache.Delete("page:" + pageID)
}
