package server

import (
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/overcast-dev/research_panel/internal/service"
	"github.com/overcast-dev/research_panel/pkg/config"
)

// NewHTTPServer wires the run operations onto a kratos HTTP server.
func NewHTTPServer(cfg config.ServerConfig, s *service.PanelService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if cfg.Addr != "" {
		opts = append(opts, http.Address(cfg.Addr))
	}
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil {
			opts = append(opts, http.Timeout(d))
		}
	}

	srv := http.NewServer(opts...)

	r := srv.Route("/")
	r.POST("/v1/runs", startRun(s))
	r.GET("/v1/runs/{id}", getRun(s))
	r.POST("/v1/runs/{id}/feedback", submitFeedback(s))
	r.POST("/v1/runs/{id}/approve", approve(s))
	r.GET("/v1/runs/{id}/report", getReport(s))
	r.POST("/v1/runs/{id}/cancel", cancelRun(s))

	return srv
}

func startRun(s *service.PanelService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var req service.StartRunRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := s.StartRun(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	}
}

func getRun(s *service.PanelService) http.HandlerFunc {
	return func(ctx http.Context) error {
		reply, err := s.GetRun(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	}
}

func submitFeedback(s *service.PanelService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var req service.FeedbackRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := s.SubmitFeedback(ctx, ctx.Vars().Get("id"), &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	}
}

func approve(s *service.PanelService) http.HandlerFunc {
	return func(ctx http.Context) error {
		reply, err := s.Approve(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	}
}

func getReport(s *service.PanelService) http.HandlerFunc {
	return func(ctx http.Context) error {
		reply, err := s.GetReport(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	}
}

func cancelRun(s *service.PanelService) http.HandlerFunc {
	return func(ctx http.Context) error {
		if err := s.Cancel(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, map[string]bool{"cancelled": true})
	}
}
