package status

// HTTPError is an error carrying the status code it should be answered with.
// Handlers may return these (or wrap them) to control the response status;
// anything else is reported as an internal server error.
type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

var (
	ErrBadRequest       = NewError(BadRequest, "bad request")
	ErrBadJSON          = NewError(BadRequest, "malformed JSON body")
	ErrMissingBoundary  = NewError(BadRequest, "missing multipart boundary")
	ErrTruncatedForm    = NewError(BadRequest, "truncated multipart stream")
	ErrURLDecoding      = NewError(BadRequest, "invalid urlencoded sequence")
	ErrBadQuery         = NewError(BadRequest, "bad URI params")
	ErrNotFound         = NewError(NotFound, "not found")
	ErrInternal         = NewError(InternalServerError, "internal server error")
	ErrUnauthorized     = NewError(Unauthorized, "unauthorized")
	ErrForbidden        = NewError(Forbidden, "forbidden")
	ErrMethodNotAllowed = NewError(MethodNotAllowed, "method not allowed")
)
