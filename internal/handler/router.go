package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/vettalaw/backend/internal/handler/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/handler/health"
	"github.com/zhouzirui/vettalaw/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/vettalaw/backend/internal/middleware"
	chatService "github.com/zhouzirui/vettalaw/backend/internal/service/chat"
)

// RouterOptions 控制路由的外围设置。
type RouterOptions struct {
	CORSOrigins []string
	// Metrics 为 nil 时不暴露 /metrics。
	Metrics http.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.CORSOrigins))

	health.New(chatSvc).RegisterRoutes(r)
	persona.New(chatSvc.Persona()).RegisterRoutes(r)
	chat.New(chatSvc, originAllowed(opts.CORSOrigins)).RegisterRoutes(r)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}

func originAllowed(origins []string) func(string) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := allowed[origin]
		return ok
	}
}
