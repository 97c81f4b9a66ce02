package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestMakeCode(t *testing.T) {
	code := MakeCode(ServiceKGRAG, CategoryNetwork, 1)
	assert.Equal(t, 2010001, code)

	s, c, n := ParseCode(code)
	assert.Equal(t, []int{20, 10, 1}, []int{s, c, n})
}

func TestErrno_WithCauseKeepsIdentity(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("search: %w", ErrGraphUnavailable.WithCause(cause))

	assert.ErrorIs(t, err, ErrGraphUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrGraphUnavailable.Code, GetCode(err))
	assert.Equal(t, http.StatusServiceUnavailable, FromError(err).HTTPStatus())
	assert.Equal(t, codes.Unavailable, FromError(err).GRPCStatus())
}

func TestFromError_WrapsPlainErrors(t *testing.T) {
	e := FromError(stderrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, e.Code)
	assert.Nil(t, FromError(nil))
	assert.Equal(t, -1, GetCode(stderrors.New("x")))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "查询不能为空", ErrQueryRequired.Message("zh"))
	assert.Equal(t, "Query must not be empty", ErrQueryRequired.Message("en"))
	assert.Equal(t, "query is blank", ErrQueryRequired.WithMessage("query is blank").MessageEN)
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		Register(New(ErrInternal.Code, 500, codes.Internal, "dup", ""))
	})
}
