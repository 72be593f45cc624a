package server

import (
	"encoding/json"
	"net/http"
	"strings"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/prefs"
	"github.com/lifeline-edge/triage/internal/stream"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthStatus is the per-dependency entry of /healthz.
type HealthStatus struct {
	Status string `json:"status"`
}

type op struct {
	method, path, summary, description string
	req                                any
	resp                               []opResponse
}

type opResponse struct {
	status      int
	body        any
	contentType string
}

func respOK(body any) opResponse { return opResponse{status: http.StatusOK, body: body} }
func respError(code int) opResponse { return opResponse{status: code, body: ErrorResponse{}} }
func respStream(code int) opResponse { return opResponse{status: code, contentType: "text/event-stream"} }

type sessionParams struct {
	ID string `path:"id"`
}

type deviceParams struct {
	Device string `path:"device"`
}

type favoriteParams struct {
	Device string `path:"device"`
	Slug   string `path:"slug"`
}

type contentParams struct {
	Slug   string `path:"slug"`
	Locale string `query:"lang"`
}

type treeParams struct {
	ID         string `path:"id"`
	Simplified bool   `query:"simplified"`
}

// pathParams returns the parameter structure for the placeholders in path.
func pathParams(method, path string) any {
	switch {
	case strings.Contains(path, "{device}") && strings.Contains(path, "{slug}"):
		return favoriteParams{}
	case strings.Contains(path, "{device}"):
		return deviceParams{}
	case method == http.MethodGet && strings.HasSuffix(path, "/tree"):
		return treeParams{}
	case strings.Contains(path, "{id}"):
		return sessionParams{}
	case strings.Contains(path, "{slug}"):
		return contentParams{}
	}
	return nil
}

var operations = []op{
	{http.MethodGet, "/healthz", "Health check",
		"Returns the health status of backend dependencies.",
		nil, []opResponse{respOK(map[string]HealthStatus{}), {status: http.StatusServiceUnavailable, body: map[string]HealthStatus{}}}},

	{http.MethodGet, "/api/hazards", "List hazards",
		"Hazard slugs in catalog order, served cache-first.",
		nil, []opResponse{respOK([]string{})}},
	{http.MethodGet, "/api/hazards-meta", "Hazard metadata",
		"Localised names, descriptions, synonyms and typical locations per hazard.",
		nil, []opResponse{respOK(map[string]hazard.Meta{})}},
	{http.MethodGet, "/api/hazard-content/{slug}", "Decision tree",
		"Decision tree of a hazard. Pass lang as query parameter; missing translations fall back to the default locale.",
		nil, []opResponse{respOK(map[string]hazard.Node{}), respError(http.StatusNotFound)}},
	{http.MethodGet, "/api/warnings", "Live warnings",
		"Network-first; falls back to the last cached copy, then to an empty list.",
		nil, []opResponse{respOK([]json.RawMessage{})}},

	{http.MethodPost, "/api/classify", "Classify description",
		"Synonym matching with an optional remote fallback for unclear text.",
		ClassifyRequest{}, []opResponse{respOK(ClassifyResponse{}), respError(http.StatusBadRequest)}},
	{http.MethodPost, "/api/risk", "Score risk",
		"Scores a risk context without creating a session.",
		RiskRequest{}, []opResponse{respOK(RiskResponse{}), respError(http.StatusBadRequest)}},
	{http.MethodPost, "/api/plan", "Plan actions",
		"Builds an action plan from text, sensor data and vision hints.",
		PlanRequest{}, []opResponse{respOK(planner.Plan{}), respError(http.StatusBadRequest)}},
	{http.MethodPost, "/api/answer-stream", "Grounded answer",
		"Streams chunk events followed by one meta event. A chunk with replace set discards earlier chunks.",
		stream.Question{}, []opResponse{respStream(http.StatusOK), respError(http.StatusBadRequest)}},
	{http.MethodGet, "/ws/answer", "Grounded answer over WebSocket",
		"Send question messages; each is answered with chunk frames and a closing meta or error frame.",
		nil, []opResponse{{status: http.StatusSwitchingProtocols, contentType: "text/plain"}}},

	{http.MethodPost, "/api/sessions", "Create session",
		"Starts an interview. A suggestion is offered for confirmation before the first question.",
		CreateSessionRequest{}, []opResponse{{status: http.StatusCreated, body: SessionResponse{}}, respError(http.StatusBadRequest)}},
	{http.MethodGet, "/api/sessions/{id}", "Session state",
		"Risk context, level and the last plan of the session.",
		nil, []opResponse{respOK(SessionState{}), respError(http.StatusNotFound)}},
	{http.MethodDelete, "/api/sessions/{id}", "End session",
		"Ends the session and stops its sensor processing.",
		nil, []opResponse{{status: http.StatusNoContent}, respError(http.StatusNotFound)}},
	{http.MethodGet, "/api/sessions/{id}/interview", "Interview state",
		"Current question, suggestion or result.",
		nil, []opResponse{respOK(InterviewResponse{}), respError(http.StatusNotFound)}},
	{http.MethodPost, "/api/sessions/{id}/interview/answer", "Answer question",
		"Answers yes, no or skip. The first matching rule completes the interview.",
		InterviewAnswerRequest{}, []opResponse{respOK(InterviewResponse{}), respError(http.StatusConflict), respError(http.StatusNotFound)}},
	{http.MethodPost, "/api/sessions/{id}/interview/restart", "Restart interview",
		"Clears all answers and cancels a pending remote classification.",
		nil, []opResponse{respOK(InterviewResponse{}), respError(http.StatusNotFound)}},
	{http.MethodPost, "/api/sessions/{id}/tree", "Open decision tree",
		"Opens the tree of a hazard, defaulting to the interview result.",
		OpenTreeRequest{}, []opResponse{respOK(TreeResponse{}), respError(http.StatusBadRequest), respError(http.StatusNotFound)}},
	{http.MethodGet, "/api/sessions/{id}/tree", "Current tree node",
		"Pass simplified=true for simplified wording.",
		nil, []opResponse{respOK(TreeResponse{}), respError(http.StatusNotFound)}},
	{http.MethodPost, "/api/sessions/{id}/tree/select", "Select option",
		"Moves to a node. An unknown node leaves the position unchanged and sets error.",
		SelectRequest{}, []opResponse{respOK(TreeResponse{}), respError(http.StatusNotFound)}},
	{http.MethodPost, "/api/sessions/{id}/tree/back", "Go back",
		"Returns to the previous node; exited is set when the history was empty.",
		nil, []opResponse{respOK(TreeResponse{})}},
	{http.MethodPut, "/api/sessions/{id}/context", "Update risk context",
		"Updates persona, vitals and environment and publishes the new risk level.",
		ContextUpdate{}, []opResponse{respOK(ContextResponse{}), respError(http.StatusBadRequest)}},
	{http.MethodPost, "/api/sessions/{id}/sensor", "Push sensor reading",
		"Feeds motion and location readings to crash detection.",
		SensorRequest{}, []opResponse{{status: http.StatusAccepted}, respError(http.StatusBadRequest)}},
	{http.MethodPost, "/api/sessions/{id}/plan", "Plan for session",
		"Plans from the session state. A newer request supersedes a running one.",
		SessionPlanRequest{}, []opResponse{respOK(planner.Plan{}), respError(http.StatusConflict)}},
	{http.MethodGet, "/api/sessions/{id}/events", "Session events",
		"Server-Sent Events: risk, suggestion, interview, tree and plan.",
		nil, []opResponse{respStream(http.StatusOK), respError(http.StatusNotFound)}},

	{http.MethodGet, "/api/prefs/{device}", "Load preferences",
		"Unset keys read as their defaults.",
		nil, []opResponse{respOK(prefs.Prefs{})}},
	{http.MethodPut, "/api/prefs/{device}", "Save preferences",
		"Writes only the fields present.",
		prefs.Update{}, []opResponse{respOK(prefs.Prefs{}), respError(http.StatusBadRequest)}},
	{http.MethodDelete, "/api/prefs/{device}", "Reset preferences",
		"Deletes every stored setting of the device.",
		nil, []opResponse{respOK(prefs.Prefs{})}},
	{http.MethodPost, "/api/prefs/{device}/favorites/{slug}", "Toggle favourite",
		"Adds the hazard to the favourites or removes it.",
		nil, []opResponse{respOK(FavoriteResponse{}), respError(http.StatusNotFound)}},

	{http.MethodGet, "/api/cache", "Cache status",
		"Current cache names, entry counts and last install time.",
		nil, []opResponse{respOK(offline.Status{})}},
	{http.MethodPost, "/api/cache/sync", "Sync caches",
		"Precaches the manifest and retires outdated caches.",
		nil, []opResponse{respOK(SyncResponse{}), respError(http.StatusBadGateway)}},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Triage API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Offline-first emergency triage: classification, risk, plans and decision trees.")

	for _, o := range operations {
		oc, err := r.NewOperationContext(o.method, o.path)
		if err != nil {
			continue
		}
		oc.SetSummary(o.summary)
		oc.SetDescription(o.description)
		if params := pathParams(o.method, o.path); params != nil {
			oc.AddReqStructure(params)
		}
		if o.req != nil {
			oc.AddReqStructure(o.req)
		}
		for _, rs := range o.resp {
			opts := []openapi.ContentOption{openapi.WithHTTPStatus(rs.status)}
			if rs.contentType != "" {
				opts = append(opts, openapi.WithContentType(rs.contentType))
			}
			oc.AddRespStructure(rs.body, opts...)
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
