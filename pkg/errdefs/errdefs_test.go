package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFound("server %s not found", "abc"), KindNotFound},
		{"validation", Validation("name is required"), KindValidation},
		{"conflict", Conflict("server is running"), KindConflict},
		{"state", State("cannot start while updating"), KindState},
		{"docker wrap", Docker(errors.New("dial unix: no such file"), "failed to connect"), KindDocker},
		{"filesystem wrap", FileSystem(errors.New("permission denied"), "failed to copy"), KindFileSystem},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetKind(tt.err))
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("underlying")
	err := Docker(root, "failed to stop container")

	require.Error(t, err)
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "failed to stop container")
	assert.Contains(t, err.Error(), "underlying")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Docker(nil, "ignored"))
	assert.NoError(t, Wrap(KindInternal, nil, "ignored"))
}

func TestKindSurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("import failed: %w", NotFound("template %s not found", "minecraft"))

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation is 400", Validation("bad"), http.StatusBadRequest},
		{"not found is 404", NotFound("gone"), http.StatusNotFound},
		{"conflict is 409", Conflict("busy"), http.StatusConflict},
		{"state is 409", State("illegal"), http.StatusConflict},
		{"docker is 500", Docker(errors.New("x"), "y"), http.StatusInternalServerError},
		{"plain is 500", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
