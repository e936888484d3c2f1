package status

type Code uint16

// HTTP status codes as registered with IANA.
// See: https://www.iana.org/assignments/http-status-codes/http-status-codes.xhtml
const (
	OK                   Code = 200
	Created              Code = 201
	Accepted             Code = 202
	NoContent            Code = 204
	MovedPermanently     Code = 301
	Found                Code = 302
	SeeOther             Code = 303
	NotModified          Code = 304
	TemporaryRedirect    Code = 307
	PermanentRedirect    Code = 308
	BadRequest           Code = 400
	Unauthorized         Code = 401
	Forbidden            Code = 403
	NotFound             Code = 404
	MethodNotAllowed     Code = 405
	RequestTimeout       Code = 408
	Conflict             Code = 409
	Gone                 Code = 410
	LengthRequired       Code = 411
	PayloadTooLarge      Code = 413
	UnsupportedMediaType Code = 415
	UnprocessableEntity  Code = 422
	TooManyRequests      Code = 429
	InternalServerError  Code = 500
	NotImplemented       Code = 501
	BadGateway           Code = 502
	ServiceUnavailable   Code = 503
	GatewayTimeout       Code = 504
)

// Text returns the canonical reason phrase of the code, or "Unknown Status Code"
// for codes it doesn't know about.
func Text(code Code) string {
	switch code {
	case OK:
		return "OK"
	case Created:
		return "Created"
	case Accepted:
		return "Accepted"
	case NoContent:
		return "No Content"
	case MovedPermanently:
		return "Moved Permanently"
	case Found:
		return "Found"
	case SeeOther:
		return "See Other"
	case NotModified:
		return "Not Modified"
	case TemporaryRedirect:
		return "Temporary Redirect"
	case PermanentRedirect:
		return "Permanent Redirect"
	case BadRequest:
		return "Bad Request"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case NotFound:
		return "Not Found"
	case MethodNotAllowed:
		return "Method Not Allowed"
	case RequestTimeout:
		return "Request Timeout"
	case Conflict:
		return "Conflict"
	case Gone:
		return "Gone"
	case LengthRequired:
		return "Length Required"
	case PayloadTooLarge:
		return "Payload Too Large"
	case UnsupportedMediaType:
		return "Unsupported Media Type"
	case UnprocessableEntity:
		return "Unprocessable Entity"
	case TooManyRequests:
		return "Too Many Requests"
	case InternalServerError:
		return "Internal Server Error"
	case NotImplemented:
		return "Not Implemented"
	case BadGateway:
		return "Bad Gateway"
	case ServiceUnavailable:
		return "Service Unavailable"
	case GatewayTimeout:
		return "Gateway Timeout"
	default:
		return "Unknown Status Code"
	}
}
