package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
)

// encodeLogEntry streams entries as SSE events named after their type. A
// ?type= query parameter restricts the stream to one type.
func encodeLogEntry(r *http.Request, e eventlog.Entry) (string, string, bool) {
	if want := r.URL.Query().Get("type"); want != "" && string(e.Type) != want {
		return "", "", false
	}
	data, err := json.Marshal(e)
	if err != nil {
		slog.Debug("log entry marshal failed", "error", err)
		return "", "", false
	}
	return string(e.Type), string(data), true
}

func registerLogHandlers(api huma.API, svc Service) {
	type logsInput struct {
		Type  string `query:"type" doc:"Only entries of this type (info, warning, error, focus, visibility, lifecycle, detection, action)"`
		Limit int    `query:"limit" default:"0" doc:"Maximum entries to return; 0 returns all"`
	}
	type logsOutput struct {
		Body struct {
			Entries []eventlog.Entry `json:"entries"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-logs", Method: http.MethodGet, Path: "/api/v1/log", Summary: "List event log entries, newest first", Tags: []string{"Log"}},
		func(ctx context.Context, input *logsInput) (*logsOutput, error) {
			entries, err := svc.GetLogs(ctx, input.Type, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &logsOutput{}
			out.Body.Entries = entries
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-logs", Method: http.MethodDelete, Path: "/api/v1/log", Summary: "Clear the event log", Tags: []string{"Log"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.ClearLogs(ctx); err != nil {
				return nil, mapErr(err)
			}
			return okStatus(), nil
		})

	type exportLogsOutput struct {
		ContentDisposition string `header:"Content-Disposition"`
		Body               eventlog.ExportDoc
	}
	huma.Register(api, huma.Operation{OperationID: "export-logs", Method: http.MethodGet, Path: "/api/v1/log/export", Summary: "Download the event log as JSON", Tags: []string{"Log"}},
		func(ctx context.Context, input *struct{}) (*exportLogsOutput, error) {
			doc, err := svc.ExportLogs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &exportLogsOutput{
				ContentDisposition: `attachment; filename="` + doc.Filename + `"`,
				Body:               doc,
			}, nil
		})
}
