package device

import (
	"fmt"
	"net/http"
)

// Outcome reports how many messages the service accepted.
type Outcome struct {
	Count int
}

// ServiceError is a non-204 response from the ingestion endpoint. Code
// is the HTTP status code as a string, Description the service-side
// meaning of that code.
type ServiceError struct {
	Code        string
	Description string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service returned %s: %s", e.Code, e.Description)
}

const unknownErrorDescription = "Unknown error occurred."

// statusDescriptions maps the ingestion endpoint's status codes to
// their documented meaning. 429 suggests exponential backoff to the
// caller; the client itself never retries.
var statusDescriptions = map[int]string{
	http.StatusBadRequest:          "The body of the request is not valid; for example, it cannot be parsed, or the object cannot be validated.",
	http.StatusUnauthorized:        "The authorization token cannot be validated; for example, it is expired or does not apply to the request's URI.",
	http.StatusForbidden:           "The daily message quota for the IoT hub is exceeded.",
	http.StatusNotFound:            "The IoT hub instance or a device identity does not exist.",
	http.StatusPreconditionFailed:  "The ETag in the request does not match the ETag of the existing resource.",
	http.StatusTooManyRequests:     "Throttling limits have been exceeded for the requested operation. Consider an exponential backoff.",
	http.StatusInternalServerError: "An internal error occurred.",
}

func lookupStatus(status int) string {
	if description, ok := statusDescriptions[status]; ok {
		return description
	}
	return unknownErrorDescription
}
