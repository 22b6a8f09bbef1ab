package engine

import (
	"errors"

	"github.com/google/uuid"
)

// Status labels used by the external status view.
const (
	LabelWaitingForImage = "Waiting for image"
	LabelWaiting         = "Waiting for process"
	LabelInProgress      = "In progress"
	LabelCompleted       = "Completed"
	LabelError           = "Error"
)

// Error codes carried in ErrorInfo.
const (
	CodeProcessing = 1
	CodeCanceled   = 2
	CodeNotFound   = 404
)

// ErrorInfo is the error descriptor of a failed or canceled task.
type ErrorInfo struct {
	Code     int    `json:"error_code"`
	Msg      string `json:"msg"`
	HumanMsg string `json:"human_msg"`
}

// NotFoundInfo is returned to clients that poll an unknown id.
func NotFoundInfo() ErrorInfo {
	return ErrorInfo{Code: CodeNotFound, Msg: "not found", HumanMsg: "not found"}
}

// View is the client-facing status of a task.
type View struct {
	ID     uuid.UUID  `json:"id"`
	Status string     `json:"status"`
	Error  *ErrorInfo `json:"error"`
}

// NewView projects a record into its external representation.
// Completed tasks with a failure outcome are reported as "Error".
func NewView(rec Record) View {
	v := View{ID: rec.ID}
	st := rec.Status
	switch st.State {
	case StateWaitingForImage:
		v.Status = LabelWaitingForImage
	case StateWaiting:
		v.Status = LabelWaiting
	case StateInProgress:
		v.Status = LabelInProgress
	case StateCompleted:
		if st.Err == nil {
			v.Status = LabelCompleted
			break
		}
		v.Status = LabelError
		v.Error = errorInfo(CodeProcessing, st.Err)
	case StateCanceled:
		v.Status = LabelError
		v.Error = errorInfo(CodeCanceled, st.Err)
	}
	return v
}

func errorInfo(code int, err error) *ErrorInfo {
	if err == nil {
		err = ErrCanceled
	}
	info := &ErrorInfo{Code: code, Msg: err.Error()}
	var pe *ProcessingError
	switch {
	case errors.As(err, &pe):
		info.HumanMsg = "image " + pe.Stage + " failed"
	case code == CodeCanceled:
		info.HumanMsg = "task was canceled"
	default:
		info.HumanMsg = "image processing failed"
	}
	return info
}
