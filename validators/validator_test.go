package validators

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"max=4"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(&sample{Email: "a@b.co", Code: "12"}))

	err := v.Validate(&sample{Email: "nope", Code: "123456"})
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
	assert.Equal(t, "email failed email; code failed max", he.Message)
}
