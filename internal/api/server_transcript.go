package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tubeprompt/internal/agent"
)

func registerTranscriptHandlers(api huma.API, svc Service) {
	type tracksOutput struct {
		Body agent.TracksResult
	}
	huma.Register(api, huma.Operation{OperationID: "list-tracks", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/tracks", Summary: "List caption tracks and the one the feed would use", Tags: []string{"Transcript"}},
		func(ctx context.Context, input *tabIDInput) (*tracksOutput, error) {
			res, err := svc.Tracks(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tracksOutput{Body: res}, nil
		})

	type transcriptOutput struct {
		Body *agent.AcquireResult
	}
	huma.Register(api, huma.Operation{OperationID: "acquire-transcript", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/transcript", Summary: "Acquire the transcript and build the prompt", Tags: []string{"Transcript"}},
		func(ctx context.Context, input *struct {
			TabID string `path:"tab_id"`
			Copy  bool   `query:"copy" doc:"Also write the prompt to the page clipboard and show a notice"`
		}) (*transcriptOutput, error) {
			res, err := svc.Acquire(ctx, input.TabID, input.Copy)
			if err != nil {
				return nil, mapErr(err)
			}
			return &transcriptOutput{Body: res}, nil
		})
}
