package recognition

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable：就绪探测失败，识别请求必须整体拦截
	ErrServiceUnavailable = errors.New("classifier service unavailable")
	// ErrRecognitionFailed：识别失败的总类，下列具体原因均可 errors.Is 到它
	ErrRecognitionFailed  = errors.New("recognition failed")
	ErrTransport          = errors.New("classifier request failed")
	ErrBadStatus          = errors.New("classifier returned non-2xx status")
	ErrNotJSON            = errors.New("classifier response is not json")
	ErrMissingPredictions = errors.New("classifier response missing predictions")
	ErrEmptyPredictions   = errors.New("classifier returned no predictions")
	ErrImageFetch         = errors.New("image fetch failed")
	ErrEmptyImage         = errors.New("empty image payload")
)

// RecognitionError：携带失败原因与 HTTP 状态码
type RecognitionError struct {
	Kind   error
	Status int
	Err    error
}

func (e *RecognitionError) Error() string {
	msg := ErrRecognitionFailed.Error() + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RecognitionError) Unwrap() []error {
	out := []error{ErrRecognitionFailed, e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func failure(kind error, status int, err error) error {
	return &RecognitionError{Kind: kind, Status: status, Err: err}
}
