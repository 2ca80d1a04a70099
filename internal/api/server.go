package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tubeprompt/internal/agent"
	"github.com/dgnsrekt/tubeprompt/internal/cdpcontrol"
	"github.com/dgnsrekt/tubeprompt/internal/events"
	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

type Service interface {
	ListTabs(ctx context.Context) ([]agent.TabStatus, error)
	Session(ctx context.Context, tabID string) (watch.SessionState, error)
	Inject(ctx context.Context, tabID string) (agent.InjectResult, error)
	Tracks(ctx context.Context, tabID string) (agent.TracksResult, error)
	Acquire(ctx context.Context, tabID string, toClipboard bool) (*agent.AcquireResult, error)
}

var _ Service = (*agent.Service)(nil)

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Browser target id of the video tab"`
}

// NewServer builds the control API. A nil broker leaves out the event stream.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig(apiTitle, "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		page, err := renderDocs(broker != nil)
		if err != nil {
			slog.Error("docs render failed", "error", err)
			http.Error(w, "docs unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(page); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get(eventsPath, events.SSEHandler(broker))
	}

	registerHealthHandlers(api)
	registerTabHandlers(api, svc)
	registerTranscriptHandlers(api, svc)

	return router
}

const apiTitle = "Tubeprompt Agent API"

var docsTemplate = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="display: flex; flex-direction: column; height: 100vh; margin: 0;">
  <p id="tp-notes" style="margin: 0; padding: 6px 12px; font: 13px sans-serif; background: #111; color: #ccc;">
    Each tab runs one acquisition at a time; a second request gets 409 BUSY.
    {{if .Events}}Activity is streamed as server-sent events from <code>{{.EventsPath}}</code>.{{else}}The activity stream is disabled.{{end}}
  </p>
  <elements-api style="flex: 1; min-height: 0;"
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="responsive"
    hideExport
    tryItCredentialsPolicy="same-origin"
  />
</body>
</html>`))

// renderDocs builds the API reference page. streaming says whether the
// activity stream is mounted.
func renderDocs(streaming bool) ([]byte, error) {
	var buf bytes.Buffer
	err := docsTemplate.Execute(&buf, struct {
		Title      string
		Events     bool
		EventsPath string
	}{apiTitle, streaming, eventsPath})
	return buf.Bytes(), err
}

const eventsPath = "/api/v1/events"

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, agent.ErrNoTranscript) {
		return huma.Error404NotFound(err.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeBusy:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
