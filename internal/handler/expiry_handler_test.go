package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vietlearn/class-access-api/internal/expiry"
	"github.com/vietlearn/class-access-api/internal/middleware"
	"github.com/vietlearn/class-access-api/internal/models"
)

type schedulerMock struct {
	started []string
	stopped []string
	active  bool
}

func (m *schedulerMock) Start(subjectID string) { m.started = append(m.started, subjectID) }
func (m *schedulerMock) Stop(subjectID string)  { m.stopped = append(m.stopped, subjectID) }
func (m *schedulerMock) Active(string) bool     { return m.active }

type runnerMock struct {
	outcomes []expiry.Outcome
	err      error
	ran      []string
}

func (m *runnerMock) Run(_ context.Context, studentID string) ([]expiry.Outcome, error) {
	m.ran = append(m.ran, studentID)
	return m.outcomes, m.err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func staffClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff}
}

func TestExpiryHandlerStart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	scheduler := &schedulerMock{}
	handler := NewExpiryHandler(scheduler, &runnerMock{})

	c, w := newGinContext(http.MethodPost, "/expiry/subjects/stu-1/start", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	c.Set(middleware.ContextUserKey, staffClaims())

	handler.Start(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, []string{"stu-1"}, scheduler.started)
}

func TestExpiryHandlerStop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	scheduler := &schedulerMock{}
	handler := NewExpiryHandler(scheduler, &runnerMock{})

	c, w := newGinContext(http.MethodPost, "/expiry/subjects/stu-1/stop", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	c.Set(middleware.ContextUserKey, staffClaims())

	handler.Stop(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, []string{"stu-1"}, scheduler.stopped)
}

func TestExpiryHandlerRunNow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &runnerMock{outcomes: []expiry.Outcome{
		{EnrollmentID: "enr-1", ClassID: "cls-1", Band: expiry.BandExpired, Transitioned: true, Notified: true},
	}}
	handler := NewExpiryHandler(&schedulerMock{active: true}, runner)

	c, w := newGinContext(http.MethodPost, "/expiry/subjects/stu-1/run", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	c.Set(middleware.ContextUserKey, staffClaims())

	handler.RunNow(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"stu-1"}, runner.ran)

	var envelope struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, true, envelope.Meta["active_loop"])
}

func TestExpiryHandlerRunNowPartialFailureStillResponds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &runnerMock{
		outcomes: []expiry.Outcome{{EnrollmentID: "enr-1", Band: expiry.BandExpired, Err: expiry.ErrSinkUnavailable}},
		err:      &expiry.PartialPassError{Failed: 1, Total: 1},
	}
	handler := NewExpiryHandler(&schedulerMock{}, runner)

	c, w := newGinContext(http.MethodPost, "/expiry/subjects/stu-1/run", nil)
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	c.Set(middleware.ContextUserKey, staffClaims())

	handler.RunNow(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestExpiryHandlerRejectsNonStaff(t *testing.T) {
	gin.SetMode(gin.TestMode)
	scheduler := &schedulerMock{}
	handler := NewExpiryHandler(scheduler, &runnerMock{})

	t.Run("missing claims", func(t *testing.T) {
		c, w := newGinContext(http.MethodPost, "/expiry/subjects/stu-1/start", nil)
		c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
		handler.Start(c)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("student role", func(t *testing.T) {
		c, w := newGinContext(http.MethodPost, "/expiry/subjects/stu-1/start", nil)
		c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})
		handler.Start(c)
		require.Equal(t, http.StatusForbidden, w.Code)
	})

	require.Empty(t, scheduler.started)
}
