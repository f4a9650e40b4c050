package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerErrorCode(t *testing.T) {
	assert.Equal(t, ServerErrorInsufficientFunds, ParseServerErrorCode("insufficientFunds"))
	assert.Equal(t, ServerErrorUnknown, ParseServerErrorCode("somethingNew"))
	assert.Equal(t, ServerErrorUnknown, ParseServerErrorCode(""))
}

func TestServerError_KeepsRawCodeForUnknown(t *testing.T) {
	se := NewServerError("brandNewCode", "not yet supported")
	assert.Equal(t, ServerErrorUnknown, se.Code)
	assert.Equal(t, "brandNewCode", se.RawCode)
	assert.Equal(t, "unknown(brandNewCode): not yet supported", se.String())

	known := NewServerError("rejectedByIssuer", "")
	assert.Equal(t, "rejectedByIssuer", known.String())
}

func TestIsServerError(t *testing.T) {
	serverErr := ServerFailure(400, NewServerError("invalidPaymentTool", "bad card"))
	wrapped := fmt.Errorf("create payment: %w", serverErr)

	assert.True(t, IsServerError(serverErr))
	assert.True(t, IsServerError(wrapped))

	se, ok := AsServerError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ServerErrorInvalidPaymentTool, se.Code)

	assert.False(t, IsServerError(&NetworkError{Kind: UnacceptableStatusCode, StatusCode: 502}))
	assert.False(t, IsServerError(&NetworkError{Kind: CannotMapResponse, Err: errors.New("eof")}))
	assert.False(t, IsServerError(errors.New("connection reset")))
	assert.False(t, IsServerError(nil))
}

func TestNetworkError_Messages(t *testing.T) {
	cause := errors.New("unexpected EOF")
	mapErr := &NetworkError{Kind: CannotMapResponse, Err: cause}
	assert.Equal(t, "network: cannotMapResponse: unexpected EOF", mapErr.Error())
	assert.ErrorIs(t, mapErr, cause)

	statusErr := &NetworkError{Kind: UnacceptableStatusCode, StatusCode: 503}
	assert.Equal(t, "network: unacceptable status code 503", statusErr.Error())

	serverErr := ServerFailure(409, NewServerError("invoicePaymentPending", "pending"))
	assert.Equal(t, "network: server error: invoicePaymentPending: pending", serverErr.Error())
}
