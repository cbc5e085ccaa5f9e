package ai

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider is used in local mode: it delegates estimates to the catalog
// and narrates by echoing the summary.
type MockProvider struct {
	catalog *CatalogEstimator
}

func NewMockProvider(catalog *CatalogEstimator) *MockProvider {
	return &MockProvider{catalog: catalog}
}

func (p *MockProvider) EstimateMacros(ctx context.Context, req EstimateRequest) (Estimate, error) {
	if len(req.Image) > 0 && strings.TrimSpace(req.Text) == "" {
		return Estimate{}, fmt.Errorf("mock estimator cannot read images")
	}
	est, err := p.catalog.EstimateMacros(ctx, req)
	if err != nil {
		return Estimate{}, err
	}
	est.Source = SourceEstimator
	return est, nil
}

func (p *MockProvider) Narrate(ctx context.Context, req NarrateRequest) (string, error) {
	_ = ctx
	if s := strings.TrimSpace(req.Summary); s != "" {
		return s, nil
	}
	return req.Title, nil
}
