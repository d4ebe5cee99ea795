package bootstrap

import (
	"context"
	"fmt"
	"time"

	"tts-batch/internal/domain"
	"tts-batch/internal/synth"
)

const catalogTimeout = 15 * time.Second

// modelLister fetches the model catalog from the synthesis API.
type modelLister interface {
	ListModels(ctx context.Context) ([]domain.ModelGroup, error)
}

// GetModelGroups returns the cached model catalog, fetching it on first use.
func (a *App) GetModelGroups() ([]domain.ModelGroup, error) {
	a.mu.Lock()
	cached := a.groups
	a.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return a.RefreshModelGroups()
}

// RefreshModelGroups refetches the model catalog and replaces the cache.
func (a *App) RefreshModelGroups() ([]domain.ModelGroup, error) {
	a.mu.Lock()
	lister := a.Catalog
	a.mu.Unlock()
	if lister == nil {
		return nil, fmt.Errorf("model catalog is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	defer cancel()

	groups, err := lister.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load model catalog: %w", err)
	}

	a.mu.Lock()
	a.groups = groups
	a.mu.Unlock()
	return groups, nil
}

// CommonLanguages returns the languages every selected model's group supports.
func (a *App) CommonLanguages(selections []domain.Selection) ([]string, error) {
	groups, err := a.GetModelGroups()
	if err != nil {
		return nil, err
	}
	return synth.CommonLanguages(groups, selections), nil
}
