package http

import (
	"github.com/go-chi/chi/v5"
	_ "github.com/snapshop-tech/go-backend/docs" // Импорт сгенерированных файлов
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/logger"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(catalogUC usecase.CatalogUC, searchUC usecase.SearchUC, regenUC usecase.RegenUC) {
	r.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"), // ссылка на JSON
	))

	r.router.Route("/api/v1", func(v1 chi.Router) {
		prHandler := NewProductHandler(catalogUC, r.logger)
		registerProductRoutes(v1, prHandler)

		searchHandler := NewSearchHandler(searchUC, r.logger)
		registerSearchRoutes(v1, searchHandler)

		adminHandler := NewAdminHandler(regenUC, r.logger)
		registerAdminRoutes(v1, adminHandler)
	})
}

func registerProductRoutes(router chi.Router, prHandler *ProductHandler) {
	router.Route("/products", func(pr chi.Router) {
		pr.Post("/", prHandler.syncProduct)
	})
}

func registerSearchRoutes(router chi.Router, searchHandler *SearchHandler) {
	router.Post("/search", searchHandler.searchSimilar)
}

func registerAdminRoutes(router chi.Router, adminHandler *AdminHandler) {
	router.Route("/admin", func(ad chi.Router) {
		ad.Post("/regenerate", adminHandler.regenerate)
	})
}
