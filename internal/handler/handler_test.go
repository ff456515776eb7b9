package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"novel-workflow/internal/continuation"
	"novel-workflow/internal/handler"
	"novel-workflow/internal/mocks"
	"novel-workflow/internal/status"
	"novel-workflow/internal/workflow"
	sharedMiddleware "novel-workflow/shared/middleware"
	"novel-workflow/shared/models"
)

const (
	validToken   = "valid-token"
	expiredToken = "expired-token"
	testUser     = "user-1"
)

func fakeVerifier(_ context.Context, token string) (*models.Claims, error) {
	switch token {
	case validToken:
		return &models.Claims{UserID: testUser}, nil
	case expiredToken:
		return nil, models.ErrTokenExpired
	default:
		return nil, models.ErrTokenInvalid
	}
}

type HandlerSuite struct {
	suite.Suite
	workflows    *mocks.WorkflowStarter
	statuses     *mocks.StatusReader
	continuation *mocks.EpisodeContinuer
	router       http.Handler
}

func (s *HandlerSuite) SetupTest() {
	s.workflows = mocks.NewWorkflowStarter(s.T())
	s.statuses = mocks.NewStatusReader(s.T())
	s.continuation = mocks.NewEpisodeContinuer(s.T())

	h := handler.NewHandler(s.workflows, s.statuses, s.continuation, 10*time.Millisecond, zap.NewNop())
	s.router = handler.NewRouter(h, handler.RouterOptions{Verifier: fakeVerifier}, zap.NewNop())
}

func (s *HandlerSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sharedMiddleware.RequestIDHeader, "req-123")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) errorCode(rec *httptest.ResponseRecorder) models.ErrorResponse {
	var resp models.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *HandlerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())
}

func (s *HandlerSuite) TestAuthRequired() {
	rec := s.do(http.MethodPost, "/workflow/start", "", map[string]int{"numberOfStories": 3})
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(models.ErrCodeUnauthorized, s.errorCode(rec).Code)

	rec = s.do(http.MethodPost, "/workflow/start", expiredToken, map[string]int{"numberOfStories": 3})
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(models.ErrCodeTokenExpired, s.errorCode(rec).Code)
}

func (s *HandlerSuite) TestStartWorkflow_Accepted() {
	result := &workflow.StartWorkflowResult{
		WorkflowID:      uuid.New(),
		RequestID:       uuid.New(),
		NumberOfStories: 3,
		BatchSize:       1,
		TotalBatches:    3,
		Status:          workflow.StatusStarted,
	}
	s.workflows.On("StartWorkflow", mock.Anything, testUser, workflow.StartWorkflowInput{NumberOfStories: 3}).
		Return(result, nil).Once()

	rec := s.do(http.MethodPost, "/workflow/start", validToken, map[string]int{"numberOfStories": 3})
	s.Equal(http.StatusAccepted, rec.Code)

	var got workflow.StartWorkflowResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(result.WorkflowID, got.WorkflowID)
	s.Equal(3, got.TotalBatches)
	s.Equal("req-123", rec.Header().Get(sharedMiddleware.RequestIDHeader))
}

func (s *HandlerSuite) TestStartWorkflow_ErrorMapping() {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("%w: numberOfStories must satisfy max=10", models.ErrValidation), http.StatusBadRequest, models.ErrCodeValidation},
		{models.ErrPreferencesNotFound, http.StatusBadRequest, models.ErrCodePreferencesNotFound},
		{models.ErrRateLimited, http.StatusTooManyRequests, models.ErrCodeRateLimited},
		{errors.New("rate limiter: redis down"), http.StatusInternalServerError, models.ErrCodeInternal},
	}
	for _, tt := range tests {
		s.Run(tt.wantCode, func() {
			s.workflows.On("StartWorkflow", mock.Anything, testUser, mock.Anything).Return(nil, tt.err).Once()

			rec := s.do(http.MethodPost, "/workflow/start", validToken, map[string]int{"numberOfStories": 11})
			s.Equal(tt.wantStatus, rec.Code)
			resp := s.errorCode(rec)
			s.Equal(tt.wantCode, resp.Code)
			s.Equal("req-123", resp.RequestID)
		})
	}
}

func (s *HandlerSuite) TestStartWorkflow_ValidationMessageHasNoSentinelPrefix() {
	s.workflows.On("StartWorkflow", mock.Anything, testUser, mock.Anything).
		Return(nil, fmt.Errorf("%w: numberOfStories must satisfy max=10", models.ErrValidation)).Once()

	rec := s.do(http.MethodPost, "/workflow/start", validToken, map[string]int{"numberOfStories": 11})
	s.Equal("numberOfStories must satisfy max=10", s.errorCode(rec).Message)
}

func (s *HandlerSuite) TestStartWorkflow_MalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/workflow/start", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(models.ErrCodeInvalidRequest, s.errorCode(rec).Code)
	s.workflows.AssertNotCalled(s.T(), "StartWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func (s *HandlerSuite) TestStartWorkflow_NonIntegerCountIsValidationError() {
	bodies := []string{
		`{"numberOfStories":2.5}`,
		`{"numberOfStories":"3"}`,
		`{"numberOfStories":2,"batchSize":1.5}`,
	}
	for _, body := range bodies {
		s.Run(body, func() {
			req := httptest.NewRequest(http.MethodPost, "/workflow/start", strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+validToken)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			s.Equal(http.StatusBadRequest, rec.Code)
			s.Equal(models.ErrCodeValidation, s.errorCode(rec).Code)
		})
	}
	s.workflows.AssertNotCalled(s.T(), "StartWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func (s *HandlerSuite) TestGetStatus() {
	requestID := uuid.New()
	st := &status.RequestStatus{
		RequestID: requestID,
		Type:      models.RequestTypeStory,
		Status:    models.RequestStatusProcessing,
		Progress:  &status.Progress{CurrentStep: "Generating stories (1/3)", StepNumber: 1, TotalSteps: 3},
	}
	s.statuses.On("GetStatus", mock.Anything, testUser, requestID).Return(st, nil).Once()

	rec := s.do(http.MethodGet, "/status/"+requestID.String(), validToken, nil)
	s.Equal(http.StatusOK, rec.Code)

	var got status.RequestStatus
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(models.RequestStatusProcessing, got.Status)
	s.Equal("Generating stories (1/3)", got.Progress.CurrentStep)
}

func (s *HandlerSuite) TestGetStatus_Errors() {
	rec := s.do(http.MethodGet, "/status/not-a-uuid", validToken, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(models.ErrCodeInvalidRequest, s.errorCode(rec).Code)

	missing := uuid.New()
	s.statuses.On("GetStatus", mock.Anything, testUser, missing).Return(nil, models.ErrRequestNotFound).Once()
	rec = s.do(http.MethodGet, "/status/"+missing.String(), validToken, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(models.ErrCodeRequestNotFound, s.errorCode(rec).Code)

	foreign := uuid.New()
	s.statuses.On("GetStatus", mock.Anything, testUser, foreign).Return(nil, models.ErrForbidden).Once()
	rec = s.do(http.MethodGet, "/status/"+foreign.String(), validToken, nil)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal(models.ErrCodeForbidden, s.errorCode(rec).Code)
}

func (s *HandlerSuite) TestContinueEpisode() {
	storyID := uuid.New()
	result := &continuation.ContinueResult{EpisodeID: uuid.New(), EpisodeNumber: 5, RequestID: uuid.New(), Status: continuation.StatusGenerating}
	s.continuation.On("ContinueEpisode", mock.Anything, testUser, storyID).Return(result, nil).Once()

	rec := s.do(http.MethodPost, "/stories/"+storyID.String()+"/episodes", validToken, nil)
	s.Equal(http.StatusAccepted, rec.Code)

	var got continuation.ContinueResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(5, got.EpisodeNumber)
	s.Equal(continuation.StatusGenerating, got.Status)
}

func (s *HandlerSuite) TestContinueEpisode_ErrorMapping() {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{models.ErrStoryNotFound, http.StatusNotFound, models.ErrCodeStoryNotFound},
		{models.ErrForbidden, http.StatusForbidden, models.ErrCodeForbidden},
		{fmt.Errorf("%w: story is PROCESSING", models.ErrStoryNotReady), http.StatusConflict, models.ErrCodeStoryNotReady},
		{models.ErrEpisodeConflict, http.StatusConflict, models.ErrCodeEpisodeConflict},
	}
	for _, tt := range tests {
		s.Run(tt.wantCode, func() {
			storyID := uuid.New()
			s.continuation.On("ContinueEpisode", mock.Anything, testUser, storyID).Return(nil, tt.err).Once()

			rec := s.do(http.MethodPost, "/stories/"+storyID.String()+"/episodes", validToken, nil)
			s.Equal(tt.wantStatus, rec.Code)
			s.Equal(tt.wantCode, s.errorCode(rec).Code)
		})
	}

	rec := s.do(http.MethodPost, "/stories/42/episodes", validToken, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(models.ErrCodeInvalidRequest, s.errorCode(rec).Code)
}

func (s *HandlerSuite) TestStatusStream_SendsChangesUntilTerminal() {
	requestID := uuid.New()
	processing := &status.RequestStatus{
		RequestID: requestID,
		Type:      models.RequestTypeEpisode,
		Status:    models.RequestStatusProcessing,
		Progress:  &status.Progress{CurrentStep: status.StepGeneratingEpisode, StepNumber: 1, TotalSteps: 2},
	}
	completed := &status.RequestStatus{
		RequestID: requestID,
		Type:      models.RequestTypeEpisode,
		Status:    models.RequestStatusCompleted,
		Progress:  &status.Progress{CurrentStep: status.StepEpisodeDone, StepNumber: 2, TotalSteps: 2, DownloadURL: "http://blob/episodes/1.md"},
	}
	// Первое чтение до апгрейда, затем два одинаковых опроса и терминальный статус.
	s.statuses.On("GetStatus", mock.Anything, testUser, requestID).Return(processing, nil).Times(3)
	s.statuses.On("GetStatus", mock.Anything, testUser, requestID).Return(completed, nil).Once()

	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/status/" + requestID.String() + "/ws?token=" + validToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var messages []status.RequestStatus
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		var st status.RequestStatus
		s.Require().NoError(json.Unmarshal(payload, &st))
		messages = append(messages, st)
	}

	s.Require().Len(messages, 2)
	s.Equal(models.RequestStatusProcessing, messages[0].Status)
	s.Equal(models.RequestStatusCompleted, messages[1].Status)
	s.Equal("http://blob/episodes/1.md", messages[1].Progress.DownloadURL)
}

func (s *HandlerSuite) TestStatusStream_WaitsForEpisodesAfterStoryCompleted() {
	requestID := uuid.New()
	episodesRunning := &status.RequestStatus{
		RequestID: requestID,
		Type:      models.RequestTypeStory,
		Status:    models.RequestStatusCompleted,
		Progress:  &status.Progress{CurrentStep: "Generating episodes (2/3)", StepNumber: 2, TotalSteps: 3},
	}
	done := &status.RequestStatus{
		RequestID: requestID,
		Type:      models.RequestTypeStory,
		Status:    models.RequestStatusCompleted,
		Progress:  &status.Progress{CurrentStep: status.StepAllEpisodesDone, StepNumber: 3, TotalSteps: 3, DownloadURL: "http://blob/workflows/w.json"},
	}
	s.statuses.On("GetStatus", mock.Anything, testUser, requestID).Return(episodesRunning, nil).Times(2)
	s.statuses.On("GetStatus", mock.Anything, testUser, requestID).Return(done, nil).Once()

	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/status/" + requestID.String() + "/ws?token=" + validToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var steps []string
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		var st status.RequestStatus
		s.Require().NoError(json.Unmarshal(payload, &st))
		steps = append(steps, st.Progress.CurrentStep)
	}

	s.Equal([]string{"Generating episodes (2/3)", status.StepAllEpisodesDone}, steps)
}

func (s *HandlerSuite) TestStatusStream_RejectsBeforeUpgrade() {
	requestID := uuid.New()
	s.statuses.On("GetStatus", mock.Anything, testUser, requestID).Return(nil, models.ErrForbidden).Once()

	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/status/" + requestID.String() + "/ws?token=" + validToken
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func TestNewRouter_RedisBackedIPLimit(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	h := handler.NewHandler(mocks.NewWorkflowStarter(t), mocks.NewStatusReader(t), mocks.NewEpisodeContinuer(t), time.Second, zap.NewNop())
	router := handler.NewRouter(h, handler.RouterOptions{
		Verifier:     fakeVerifier,
		IPRateWindow: time.Minute,
		IPRateLimit:  2,
		RedisClient:  client,
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status: %d", rec.Code)
	}
}

func TestIPRateLimit(t *testing.T) {
	workflows := mocks.NewWorkflowStarter(t)
	workflows.On("StartWorkflow", mock.Anything, testUser, mock.Anything).
		Return(&workflow.StartWorkflowResult{Status: workflow.StatusStarted}, nil).Times(2)

	h := handler.NewHandler(workflows, mocks.NewStatusReader(t), mocks.NewEpisodeContinuer(t), time.Second, zap.NewNop())
	router := handler.NewRouter(h, handler.RouterOptions{
		Verifier:     fakeVerifier,
		IPRateWindow: time.Minute,
		IPRateLimit:  2,
	}, zap.NewNop())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/workflow/start", strings.NewReader(`{"numberOfStories":1}`))
		req.Header.Set("Authorization", "Bearer "+validToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes: %v", codes)
	}
}
