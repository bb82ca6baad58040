package usecase

import "context"

type CatalogUC interface {
	SyncProduct(ctx context.Context, req *SyncProductReq) (*SyncProductRes, error)
	ResyncProduct(ctx context.Context, info ProductInfo) error
}

type SearchUC interface {
	SearchSimilar(ctx context.Context, req *SearchReq) ([]ScoredProduct, error)
}

type RegenUC interface {
	RegenerateAll(ctx context.Context, req *RegenerateReq) (*RegenJobRes, error)
}
