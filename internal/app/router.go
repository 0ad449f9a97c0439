package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/contacts"
	"github.com/meridian-pos/meridian/internal/loans"
	"github.com/meridian-pos/meridian/internal/purchases"
	"github.com/meridian-pos/meridian/internal/sales"
	"github.com/meridian-pos/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	CatalogHandler   *catalog.Handler
	ContactsHandler  *contacts.Handler
	SalesHandler     *sales.Handler
	PurchasesHandler *purchases.Handler
	LoansHandler     *loans.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/products", params.CatalogHandler.MountRoutes)
	r.Route("/contacts", params.ContactsHandler.MountRoutes)
	r.Route("/sales", params.SalesHandler.MountRoutes)
	r.Route("/returns", params.SalesHandler.MountReturnRoutes)
	r.Route("/purchases", params.PurchasesHandler.MountRoutes)
	r.Route("/loans", params.LoansHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
