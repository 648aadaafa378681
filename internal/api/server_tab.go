package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tab_sentinel/internal/activity"
	"github.com/dgnsrekt/tab_sentinel/internal/controller"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

type verdictOutput struct {
	Body types.Verdict
}

func registerTabHandlers(api huma.API, svc Service) {
	type tabOutput struct {
		Body controller.TabView
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tab", Summary: "Get this tab's duplicate status and info", Tags: []string{"Tab"}},
		func(ctx context.Context, input *struct{}) (*tabOutput, error) {
			view, err := svc.GetTabInfo(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: view}, nil
		})

	type activeTabsOutput struct {
		Body types.ActiveTabsInfo
	}
	huma.Register(api, huma.Operation{OperationID: "list-active-tabs", Method: http.MethodGet, Path: "/api/v1/tabs/active", Summary: "List tab records seen within the active window", Tags: []string{"Tab"}},
		func(ctx context.Context, input *struct{}) (*activeTabsOutput, error) {
			info, err := svc.GetActiveTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &activeTabsOutput{Body: info}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "recheck-tab", Method: http.MethodPost, Path: "/api/v1/tab/recheck", Summary: "Re-evaluate the duplicate verdict now", Tags: []string{"Tab"}},
		func(ctx context.Context, input *struct{}) (*verdictOutput, error) {
			v, err := svc.Recheck(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &verdictOutput{Body: v}, nil
		})

	type navigateInput struct {
		Body struct {
			URL string `json:"url" doc:"New location of this tab instance"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "navigate-tab", Method: http.MethodPut, Path: "/api/v1/tab/url", Summary: "Move this tab instance to another URL", Tags: []string{"Tab"}},
		func(ctx context.Context, input *navigateInput) (*verdictOutput, error) {
			v, err := svc.Navigate(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &verdictOutput{Body: v}, nil
		})

	type openerInput struct {
		Body struct {
			HasOpener     bool   `json:"hasOpener,omitempty" doc:"window.opener was set"`
			Referrer      string `json:"referrer,omitempty" doc:"document.referrer"`
			HistoryLength int    `json:"historyLength,omitempty" doc:"history.length"`
		}
	}
	type openerOutput struct {
		Body activity.Opener
	}
	huma.Register(api, huma.Operation{OperationID: "detect-opener", Method: http.MethodPost, Path: "/api/v1/tab/opener", Summary: "Guess how this tab was opened", Tags: []string{"Tab"}},
		func(ctx context.Context, input *openerInput) (*openerOutput, error) {
			op, err := svc.DetectOpener(ctx, activity.Hints{
				HasOpener:     input.Body.HasOpener,
				Referrer:      input.Body.Referrer,
				HistoryLength: input.Body.HistoryLength,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &openerOutput{Body: op}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "ping-siblings", Method: http.MethodPost, Path: "/api/v1/tab/ping", Summary: "Ping sibling tabs over the broadcast channel", Tags: []string{"Tab"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if _, err := svc.Ping(ctx); err != nil {
				return nil, mapErr(err)
			}
			return okStatus(), nil
		})
}
