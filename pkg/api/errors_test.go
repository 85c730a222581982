package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pharmacare/permengine/pkg/rbac"
	"github.com/pharmacare/permengine/pkg/resolver"
	"github.com/pharmacare/permengine/pkg/users"
	"github.com/pharmacare/permengine/pkg/workspace"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"role not found", fmt.Errorf("%w: r1", rbac.ErrRoleNotFound), http.StatusNotFound, CodeNotFound},
		{"user not found", users.ErrUserNotFound, http.StatusNotFound, CodeNotFound},
		{"invalid expiry", rbac.ErrInvalidExpiry, http.StatusBadRequest, CodeInvalid},
		{"conflicting permissions", users.ErrConflictingPermissions, http.StatusBadRequest, CodeInvalid},
		{"cycle on write", fmt.Errorf("%w: r1 is an ancestor of r3", rbac.ErrCyclicHierarchy), http.StatusBadRequest, CodeInvalid},
		{"cycle while resolving", fmt.Errorf("%w: %w", resolver.ErrResolution, rbac.ErrCyclicHierarchy), http.StatusInternalServerError, CodeInternal},
		{"duplicate assignment", rbac.ErrDuplicateAssignment, http.StatusConflict, CodeConflict},
		{"duplicate role", rbac.ErrDuplicateRole, http.StatusConflict, CodeConflict},
		{"upstream", fmt.Errorf("%w: timeout", workspace.ErrUpstreamUnavailable), http.StatusServiceUnavailable, CodeUnavailable},
		{"unknown workspace", fmt.Errorf("%w: %w", workspace.ErrUpstreamUnavailable, workspace.ErrWorkspaceNotFound), http.StatusNotFound, CodeNotFound},
		{"anything else", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}
