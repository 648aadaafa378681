package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tab_sentinel/internal/controller"
)

func registerActivityHandlers(api huma.API, svc Service) {
	type activityOutput struct {
		Body controller.ActivityView
	}
	huma.Register(api, huma.Operation{OperationID: "get-activity", Method: http.MethodGet, Path: "/api/v1/activity", Summary: "Get activity statistics", Tags: []string{"Activity"}},
		func(ctx context.Context, input *struct{}) (*activityOutput, error) {
			view, err := svc.GetActivity(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &activityOutput{Body: view}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "reset-activity", Method: http.MethodPost, Path: "/api/v1/activity/reset", Summary: "Reset activity statistics and counters", Tags: []string{"Activity"}},
		func(ctx context.Context, input *struct{}) (*activityOutput, error) {
			view, err := svc.ResetActivity(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &activityOutput{Body: view}, nil
		})

	type eventInput struct {
		Event string `path:"event" doc:"focus, blur, visible, hidden or input"`
	}
	huma.Register(api, huma.Operation{OperationID: "record-activity", Method: http.MethodPost, Path: "/api/v1/activity/{event}", Summary: "Record a focus, visibility or input event", Tags: []string{"Activity"}},
		func(ctx context.Context, input *eventInput) (*activityOutput, error) {
			view, err := svc.RecordActivity(ctx, input.Event)
			if err != nil {
				return nil, mapErr(err)
			}
			return &activityOutput{Body: view}, nil
		})
}
