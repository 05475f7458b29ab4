package routes

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codealloy/alloy-api/internal/authz"
	"github.com/codealloy/alloy-api/internal/handlers"
)

// NewRouter sets up the API routes. Health, the banner, metrics, and the
// webhook (which carries its own HMAC auth) are public; everything under
// /api requires a bearer token.
func NewRouter(
	db *sql.DB,
	jwtSecret string,
	transformations *handlers.TransformationHandler,
	repositories *handlers.RepositoryHandler,
	webhooks *handlers.WebhookHandler,
) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", handlers.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.HealthCheck(db)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/api/webhooks/github", webhooks.GitHub).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authz.JWTMiddleware(jwtSecret))

	// Fixed paths are registered before the {jobID} pattern so "types" and
	// friends are not captured as job identifiers.
	api.HandleFunc("/transformations/types", transformations.Types).Methods(http.MethodGet)
	api.HandleFunc("/transformations/verification-levels", transformations.VerificationLevels).Methods(http.MethodGet)
	api.HandleFunc("/transformations/stats", transformations.Stats).Methods(http.MethodGet)

	api.HandleFunc("/transformations", transformations.Create).Methods(http.MethodPost)
	api.HandleFunc("/transformations", transformations.List).Methods(http.MethodGet)
	api.HandleFunc("/transformations/{jobID}", transformations.Get).Methods(http.MethodGet)
	api.HandleFunc("/transformations/{jobID}/results", transformations.Results).Methods(http.MethodGet)
	api.HandleFunc("/transformations/{jobID}/events", transformations.Events).Methods(http.MethodGet)
	api.HandleFunc("/transformations/{jobID}", transformations.Cancel).Methods(http.MethodDelete)

	api.HandleFunc("/repositories/scan", repositories.Scan).Methods(http.MethodPost)

	return router
}
