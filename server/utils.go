package server

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorToHttpCode converts a Go error to an appropriate HTTP status code.
// If err is nil, returns http.StatusOK (200).
// If err contains a gRPC status, maps it to the corresponding HTTP code:
//   - codes.PermissionDenied → 403 Forbidden
//   - codes.NotFound → 404 Not Found
//   - codes.AlreadyExists → 409 Conflict
//   - codes.InvalidArgument → 400 Bad Request
//   - Other errors → 500 Internal Server Error
//
// Application callbacks that fail before answering the handshake may return
// a status error to control the HTTP status the peer observes.
func ErrorToHttpCode(err error) int {
	httpCode := http.StatusOK
	if err != nil {
		httpCode = http.StatusInternalServerError
		if er, ok := status.FromError(err); ok {
			code := er.Code()
			// see if we have a specific client error
			if code == codes.PermissionDenied {
				httpCode = http.StatusForbidden
			} else if code == codes.NotFound {
				httpCode = http.StatusNotFound
			} else if code == codes.AlreadyExists {
				httpCode = http.StatusConflict
			} else if code == codes.InvalidArgument {
				httpCode = http.StatusBadRequest
			}
		}
	}
	return httpCode
}
