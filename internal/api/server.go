package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tab_sentinel/internal/activity"
	"github.com/dgnsrekt/tab_sentinel/internal/controller"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/export"
	"github.com/dgnsrekt/tab_sentinel/internal/relay"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

type Service interface {
	GetTabInfo(ctx context.Context) (controller.TabView, error)
	GetActiveTabs(ctx context.Context) (types.ActiveTabsInfo, error)
	Recheck(ctx context.Context) (types.Verdict, error)
	Navigate(ctx context.Context, url string) (types.Verdict, error)
	DetectOpener(ctx context.Context, hints activity.Hints) (activity.Opener, error)
	Ping(ctx context.Context) (bool, error)
	GetActivity(ctx context.Context) (controller.ActivityView, error)
	RecordActivity(ctx context.Context, event string) (controller.ActivityView, error)
	ResetActivity(ctx context.Context) (controller.ActivityView, error)
	GetLogs(ctx context.Context, typ string, limit int) ([]eventlog.Entry, error)
	ClearLogs(ctx context.Context) error
	ExportLogs(ctx context.Context) (eventlog.ExportDoc, error)
	LogBroker() *relay.Broker[eventlog.Entry]
	CreateExport(ctx context.Context) (controller.ExportResult, error)
	ListExports(ctx context.Context) ([]export.Meta, error)
	GetExport(ctx context.Context, id string) (export.Snapshot, error)
	DeleteExport(ctx context.Context, id string) error
	ClearTracking(ctx context.Context) error
	Health(ctx context.Context) (controller.Health, error)
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func okStatus() *statusOutput {
	out := &statusOutput{}
	out.Body.Status = "ok"
	return out
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tab Sentinel API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/api/v1/log/stream", relay.SSEHandler(svc.LogBroker(), encodeLogEntry))

	registerTabHandlers(api, svc)
	registerActivityHandlers(api, svc)
	registerLogHandlers(api, svc)
	registerExportHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
