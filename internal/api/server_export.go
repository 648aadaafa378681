package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tab_sentinel/internal/controller"
	"github.com/dgnsrekt/tab_sentinel/internal/export"
)

type exportIDInput struct {
	ID string `path:"id" doc:"Export id (UUID)"`
}

func registerExportHandlers(api huma.API, svc Service) {
	type createOutput struct {
		Body controller.ExportResult
	}
	huma.Register(api, huma.Operation{OperationID: "create-export", Method: http.MethodPost, Path: "/api/v1/export", Summary: "Snapshot tab info, activity stats and the event log", Tags: []string{"Export"}},
		func(ctx context.Context, input *struct{}) (*createOutput, error) {
			res, err := svc.CreateExport(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &createOutput{Body: res}, nil
		})

	type listOutput struct {
		Body struct {
			Exports []export.Meta `json:"exports"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-exports", Method: http.MethodGet, Path: "/api/v1/export", Summary: "List stored exports, newest first", Tags: []string{"Export"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := svc.ListExports(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Exports = metas
			return out, nil
		})

	type getOutput struct {
		ContentDisposition string `header:"Content-Disposition"`
		Body               export.Snapshot
	}
	huma.Register(api, huma.Operation{OperationID: "get-export", Method: http.MethodGet, Path: "/api/v1/export/{id}", Summary: "Download one stored export", Tags: []string{"Export"}},
		func(ctx context.Context, input *exportIDInput) (*getOutput, error) {
			snap, err := svc.GetExport(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &getOutput{
				ContentDisposition: `attachment; filename="` + export.Filename(snap.Timestamp) + `"`,
				Body:               snap,
			}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-export", Method: http.MethodDelete, Path: "/api/v1/export/{id}", Summary: "Delete one stored export", Tags: []string{"Export"}},
		func(ctx context.Context, input *exportIDInput) (*statusOutput, error) {
			if err := svc.DeleteExport(ctx, input.ID); err != nil {
				return nil, mapErr(err)
			}
			return okStatus(), nil
		})
}
