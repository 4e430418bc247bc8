package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/izik-adio/zik-back-sub000/internal/api"
	"github.com/izik-adio/zik-back-sub000/internal/api/handlers"
	"github.com/izik-adio/zik-back-sub000/internal/auth"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/generation"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "jwt-secret"

type fakeChat struct {
	owner, text string
	err         error
}

func (f *fakeChat) SubmitTurn(_ context.Context, owner, text string) (*models.ChatResponse, error) {
	f.owner, f.text = owner, text
	if f.err != nil {
		return nil, f.err
	}
	return &models.ChatResponse{Answer: "Done!", Action: "create epic"}, nil
}

type fakeTasks struct{ err error }

func (f *fakeTasks) UpdateTaskStatus(_ context.Context, owner, taskID string, status models.TaskStatus) (*models.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Task{ID: taskID, Owner: owner, Status: status}, nil
}

type fakeRoadmaps struct {
	owner  string
	drafts []models.MilestoneDraft
}

func (f *fakeRoadmaps) InstallRoadmap(_ context.Context, owner, goalID string, drafts []models.MilestoneDraft) ([]models.Milestone, error) {
	f.owner, f.drafts = owner, drafts
	out := make([]models.Milestone, len(drafts))
	for i, d := range drafts {
		out[i] = models.Milestone{EpicID: goalID, Sequence: i + 1, Title: d.Title}
	}
	return out, nil
}

func (f *fakeRoadmaps) Roadmap(_ context.Context, owner, goalID string) ([]models.Milestone, error) {
	if goalID != "e1" || owner != "alice" {
		return nil, errs.NotFound("milestones.roadmap", "epic not found")
	}
	return []models.Milestone{{EpicID: "e1", Sequence: 1, Title: "Base"}}, nil
}

type env struct {
	handler  http.Handler
	chat     *fakeChat
	tasks    *fakeTasks
	roadmaps *fakeRoadmaps
	token    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	jwtp := auth.NewJWTProvider(secret, "")
	chain := auth.NewProviderChain()
	chain.RegisterProvider(jwtp)
	token, err := jwtp.Issue("alice", "", time.Hour)
	require.NoError(t, err)

	e := &env{chat: &fakeChat{}, tasks: &fakeTasks{}, roadmaps: &fakeRoadmaps{}, token: token}
	h := &handlers.Handlers{
		Chat:           e.chat,
		Tasks:          e.tasks,
		Roadmaps:       e.roadmaps,
		Version:        "1.2.3",
		PipelineSecret: "pipeline-secret",
	}
	e.handler = api.NewRouter(h, chain, true)
	return e
}

func (e *env) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.token}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndVersion(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = e.do(http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", decode(t, rec)["version"])
}

func TestChat_RequiresAuth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/chat", `{"message":"hi"}`, map[string]string{"Authorization": "Bearer forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, e.chat.owner)
}

func TestChat_OwnerFromToken(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/chat", `{"message":"add an epic"}`, e.bearer())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alice", e.chat.owner)
	assert.Equal(t, "add an epic", e.chat.text)
	assert.Equal(t, "Done!", decode(t, rec)["answer"])

	rec = e.do(http.MethodPost, "/api/v1/chat", `{"message":"x","owner":"bob"}`, e.bearer())
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestChat_ErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Validation("guardrails.input", "Message exceeds maximum character limit"), http.StatusBadRequest},
		{errs.E(errs.KindAuth, "assistant.turn", "authentication required"), http.StatusUnauthorized},
		{errs.NotFound("dispatch", "epic not found"), http.StatusNotFound},
		{errs.E(errs.KindRateLimited, "assistant.turn", "slow down"), http.StatusTooManyRequests},
		{errs.Wrap(errs.KindInference, "stream.decode", errors.New("empty response body")), http.StatusServiceUnavailable},
		{errs.Wrap(errs.KindPersistence, "store", errors.New("conn reset")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(errs.KindOf(tt.err).String(), func(t *testing.T) {
			e := newEnv(t)
			e.chat.err = tt.err
			rec := e.do(http.MethodPost, "/api/v1/chat", `{"message":"hi"}`, e.bearer())
			assert.Equal(t, tt.want, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, errs.KindOf(tt.err).String(), body["error"])
			assert.NotContains(t, body["message"], "conn reset")
		})
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPatch, "/api/v1/tasks/t1/status", `{"status":"completed"}`, e.bearer())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "t1", body["id"])
	assert.Equal(t, "alice", body["owner"])

	rec = e.do(http.MethodPatch, "/api/v1/tasks/t1/status", `{"status":`, e.bearer())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.tasks.err = errs.NotFound("dispatch.task.status", "daily quest not found")
	rec = e.do(http.MethodPatch, "/api/v1/tasks/t9/status", `{"status":"completed"}`, e.bearer())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMilestones(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/epics/e1/milestones", "", e.bearer())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodGet, "/api/v1/epics/e2/milestones", "", e.bearer())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoadmapCallback_Signature(t *testing.T) {
	e := newEnv(t)
	body := `{"owner":"alice","epic_id":"e1","job_id":"j1","milestones":[{"title":"Base","estimated_duration_days":28},{"title":"Peak"}]}`

	rec := e.do(http.MethodPost, "/api/v1/epics/e1/roadmap", body, map[string]string{
		generation.SignatureHeader: "sha256=" + generation.Sign("wrong", []byte(body)),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, e.roadmaps.owner)

	rec = e.do(http.MethodPost, "/api/v1/epics/e1/roadmap", body, map[string]string{
		generation.SignatureHeader: "sha256=" + generation.Sign("pipeline-secret", []byte(body)),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "alice", e.roadmaps.owner)
	require.Len(t, e.roadmaps.drafts, 2)
	assert.Equal(t, 28, e.roadmaps.drafts[0].EstimatedDurationDays)
}

func TestRoadmapCallback_EpicBoundToSignedBody(t *testing.T) {
	e := newEnv(t)
	body := `{"owner":"alice","epic_id":"e1","milestones":[{"title":"Base"}]}`
	sig := map[string]string{generation.SignatureHeader: "sha256=" + generation.Sign("pipeline-secret", []byte(body))}

	rec := e.do(http.MethodPost, "/api/v1/epics/e2/roadmap", body, sig)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "epic_mismatch", decode(t, rec)["error"])
	assert.Empty(t, e.roadmaps.owner, "replayed callback must not install")

	unbound := `{"owner":"alice","milestones":[{"title":"Base"}]}`
	rec = e.do(http.MethodPost, "/api/v1/epics/e1/roadmap", unbound, map[string]string{
		generation.SignatureHeader: "sha256=" + generation.Sign("pipeline-secret", []byte(unbound)),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, e.roadmaps.owner)
}

func TestRoadmapCallback_DisabledWithoutSecret(t *testing.T) {
	h := &handlers.Handlers{Roadmaps: &fakeRoadmaps{}}
	router := api.NewRouter(h, auth.NewProviderChain(), true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/epics/e1/roadmap", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDevProviderWhenAuthOptional(t *testing.T) {
	chat := &fakeChat{}
	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.DevProvider{})
	router := api.NewRouter(&handlers.Handlers{Chat: chat}, chain, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(auth.DevUserHeader, "dev-user")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev-user", chat.owner)
}
