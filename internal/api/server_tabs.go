package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tubeprompt/internal/agent"
	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []agent.TabStatus `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List attached video tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type sessionOutput struct {
		Body struct {
			TabID   string             `json:"tab_id"`
			Session watch.SessionState `json:"session"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/session", Summary: "Get the tab's navigation session", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*sessionOutput, error) {
			st, err := svc.Session(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body.TabID = input.TabID
			out.Body.Session = st
			return out, nil
		})

	type injectOutput struct {
		Body agent.InjectResult
	}
	huma.Register(api, huma.Operation{OperationID: "inject-control", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/inject", Summary: "Run the control injection loop now", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*injectOutput, error) {
			res, err := svc.Inject(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &injectOutput{Body: res}, nil
		})
}
