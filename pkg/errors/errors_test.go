package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_WrapsAndMatchesByCode(t *testing.T) {
	cause := stderrors.New("no rows")
	err := fmt.Errorf("get entity: %w", NotFound("entity", cause))

	assert.True(t, HasCode(err, ErrNotFound))
	assert.False(t, HasCode(err, ErrForbidden))
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, stderrors.Is(err, NotFound("anything", nil)))
	assert.Equal(t, "get entity: entity not found: no rows", err.Error())
}

func TestNewInvalidTransition_CarriesStates(t *testing.T) {
	err := NewInvalidTransition("report", "resolved", "dismiss")

	assert.Equal(t, ErrInvalidTransition, err.Code)
	assert.Equal(t, "resolved", err.Details["current_status"])
	assert.Equal(t, "dismiss", err.Details["requested_action"])
	assert.Equal(t, "cannot dismiss report in status resolved", err.Error())
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ErrNotFound.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, ErrForbidden.HTTPStatus())
	assert.Equal(t, http.StatusConflict, ErrInvalidTransition.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, ErrUnavailable.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, ErrInternal.HTTPStatus())
}

func TestCodeOf_PlainError(t *testing.T) {
	_, ok := CodeOf(stderrors.New("boom"))
	assert.False(t, ok)
}
