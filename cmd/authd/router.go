package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/securestorage/authcore"
	authprom "github.com/securestorage/authcore/metrics/export/prometheus"
	"github.com/securestorage/authcore/middleware"
)

const updateAuthority = "user:update"

func newRouter(engine *authcore.Engine, cfg config) http.Handler {
	h := &handlers{engine: engine}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.ClientIP)
	r.Use(middleware.Interceptor(engine, engine.Config().Security.PublicRoutes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		authprom.NewCollector(engine),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/user", func(r chi.Router) {
		// Endpoints reachable without a session.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.PublicRateLimit, time.Minute))
			r.Post("/register", h.register)
			r.Get("/verify/account", h.verifyAccount)
			r.Post("/login", h.login)
			r.Post("/verify/qrcode", h.verifyQRCode)
			r.Post("/resetpassword", h.requestPasswordReset)
			r.Get("/verify/password", h.verifyPasswordReset)
			r.Post("/resetpassword/reset", h.resetPassword)
		})

		r.Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthenticated)
			r.Get("/profile", h.profile)
			r.Patch("/update", h.updateProfile)
			r.Patch("/updatepassword", h.updatePassword)
			r.Patch("/mfa/setup", h.setupMFA)
			r.Patch("/mfa/cancel", h.cancelMFA)
			r.Post("/mfa/verify", h.verifyMFA)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthority(updateAuthority))
			r.Patch("/updaterole", h.updateRole)
			r.Patch("/setaccountexpired", h.setFlag(authcore.FlagAccountExpired))
			r.Patch("/setaccountlocked", h.setFlag(authcore.FlagLocked))
			r.Patch("/setaccountenabled", h.setFlag(authcore.FlagEnabled))
			r.Patch("/setcredentialexpired", h.setFlag(authcore.FlagCredentialsExpired))
		})
	})

	return r
}
