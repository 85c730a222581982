package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/resolver"
	"github.com/pharmacare/permengine/pkg/users"
)

type fakeChecker struct {
	decision resolver.Decision
	err      error
	calls    []string
}

func (f *fakeChecker) Check(_ context.Context, userID, action string) (resolver.Decision, error) {
	f.calls = append(f.calls, userID+":"+action)
	return f.decision, f.err
}

func TestRequirePermission(t *testing.T) {
	tests := []struct {
		name       string
		caller     string
		decision   resolver.Decision
		err        error
		wantStatus int
		wantEvent  audit.EventType
		wantNext   bool
	}{
		{
			name:       "no caller",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "allowed",
			caller:     "u1",
			decision:   resolver.Decision{Allowed: true, Source: "role:pharmacist"},
			wantStatus: http.StatusOK,
			wantEvent:  audit.EventTypeAuthzPermissionCheck,
			wantNext:   true,
		},
		{
			name:       "denied",
			caller:     "u1",
			decision:   resolver.Decision{Reason: resolver.ReasonNotGranted},
			wantStatus: http.StatusForbidden,
			wantEvent:  audit.EventTypeAuthzAccessDenied,
		},
		{
			name:       "unknown caller",
			caller:     "ghost",
			err:        fmt.Errorf("lookup: %w", users.ErrUserNotFound),
			wantStatus: http.StatusUnauthorized,
			wantEvent:  audit.EventTypeAuthzAccessDenied,
		},
		{
			name:       "resolution failure",
			caller:     "u1",
			err:        fmt.Errorf("%w: cycle", resolver.ErrResolution),
			wantStatus: http.StatusInternalServerError,
			wantEvent:  audit.EventTypeAuthzPermissionCheck,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, _ := test.NewNullLogger()
			checker := &fakeChecker{decision: tt.decision, err: tt.err}
			rec := &captureRecorder{}
			mw := NewPermissionMiddleware(checker, rec, log)

			var called bool
			var seenCaller string
			h := mw.RequirePermission("report.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				seenCaller = Caller(r)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/reports", nil)
			if tt.caller != "" {
				req.Header.Set(CallerHeader, tt.caller)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantNext, called)
			if tt.wantNext {
				assert.Equal(t, tt.caller, seenCaller)
			}
			if tt.caller == "" {
				assert.Empty(t, checker.calls)
				assert.Empty(t, rec.events)
				return
			}
			assert.Equal(t, []string{tt.caller + ":report.view"}, checker.calls)
			require.Len(t, rec.events, 1)
			assert.Equal(t, tt.wantEvent, rec.events[0].EventType)
			assert.Equal(t, "report.view", rec.events[0].Action)
		})
	}
}

func TestRequirePermission_DeniedCarriesReason(t *testing.T) {
	log, _ := test.NewNullLogger()
	checker := &fakeChecker{decision: resolver.Decision{Reason: resolver.ReasonTierRequired + ":pro", Source: "role:pharmacist"}}
	rec := &captureRecorder{}
	mw := NewPermissionMiddleware(checker, rec, log)

	h := mw.RequirePermission("mtr.create")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/mtr", nil)
	req.Header.Set(CallerHeader, "u1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "plan_tier_required:pro")
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventStatusDenied, rec.events[0].Status)
	assert.Equal(t, "role:pharmacist", rec.events[0].Source)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *audit.Event) error { return errors.New("sink down") }

func TestRequirePermission_RecorderFailureDoesNotBlock(t *testing.T) {
	log, hook := test.NewNullLogger()
	mw := NewPermissionMiddleware(&fakeChecker{decision: resolver.Decision{Allowed: true}}, failingRecorder{}, log)

	h := mw.RequirePermission("report.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	req.Header.Set(CallerHeader, "u1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "failed to record audit event", hook.LastEntry().Message)
}
