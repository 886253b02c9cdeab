package services

import (
	"context"
	"errors"
	"fmt"

	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/models"
	"messenger-console/pkg/meta"
)

// PageLister reads the pages a user token manages.
type PageLister interface {
	FetchConnectedPages(ctx context.Context, userToken string) ([]meta.ConnectedPage, error)
}

// SyncPages registers or refreshes every page the user token can manage and
// returns how many were written.
func SyncPages(ctx context.Context, lister PageLister, pages *db.PageRepository, creds *PageCredentials, userToken string) (int, error) {
	if userToken == "" {
		return 0, errors.New("a user access token is required")
	}
	connected, err := lister.FetchConnectedPages(ctx, userToken)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, p := range connected {
		if p.ID == "" || p.AccessToken == "" {
			logger.LogWarn("Skipping page %q without id or token", p.Name)
			continue
		}
		if err := pages.Upsert(ctx, &models.Page{ID: p.ID, Name: p.Name, AccessToken: p.AccessToken}); err != nil {
			return synced, fmt.Errorf("store page %s: %w", p.ID, err)
		}
		if creds != nil {
			creds.Invalidate(p.ID)
		}
		synced++
		logger.LogInfo("📄 Synced page %s (%s)", p.Name, p.ID)
	}
	return synced, nil
}
