package api

// ApiError is the JSON error envelope returned to clients.
type ApiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewApiError(message string, code int) *ApiError {
	return &ApiError{
		Code:    code,
		Message: message,
	}
}

func (e *ApiError) Error() string {
	return e.Message
}
