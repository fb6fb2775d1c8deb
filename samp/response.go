package samp

import "fmt"

// Status is the outcome class of a call response.
type Status string

// Response statuses defined by the profile. A warning carries both a
// usable result and error information.
const (
	StatusOK      Status = "samp.ok"
	StatusWarning Status = "samp.warning"
	StatusError   Status = "samp.error"
)

// Response is the reply a recipient produces for a routed call.
type Response struct {
	Status Status
	Result map[string]any
	Error  map[string]any
}

// OK builds a success response around the given result map. A nil result
// is replaced with an empty map so the wire form always carries one.
func OK(result map[string]any) *Response {
	if result == nil {
		result = map[string]any{}
	}
	return &Response{Status: StatusOK, Result: result}
}

// Warning builds a partial-success response carrying both a result and an
// explanatory error text.
func Warning(result map[string]any, errortxt string) *Response {
	if result == nil {
		result = map[string]any{}
	}
	return &Response{
		Status: StatusWarning,
		Result: result,
		Error:  map[string]any{KeyErrorTxt: errortxt},
	}
}

// Error builds a failure response with the given error text.
func Error(errortxt string) *Response {
	return &Response{
		Status: StatusError,
		Error:  map[string]any{KeyErrorTxt: errortxt},
	}
}

// ErrorText returns the samp.errortxt entry of the error block, or the
// empty string when none is present.
func (r *Response) ErrorText() string {
	if r == nil || r.Error == nil {
		return ""
	}
	txt, _ := r.Error[KeyErrorTxt].(string)
	return txt
}

// ToMap renders the response in its wire form.
func (r *Response) ToMap() map[string]any {
	out := map[string]any{KeyStatus: string(r.Status)}
	if r.Result != nil {
		out[KeyResult] = r.Result
	} else if r.Status != StatusError {
		out[KeyResult] = map[string]any{}
	}
	if r.Error != nil {
		out[KeyError] = r.Error
	}
	return out
}

// ResponseFromMap parses a wire-form response map. The samp.status entry
// must be a non-empty string; missing result or error blocks are left nil.
func ResponseFromMap(raw map[string]any) (*Response, error) {
	st, ok := raw[KeyStatus].(string)
	if !ok || st == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, KeyStatus)
	}
	r := &Response{Status: Status(st)}
	if rv, ok := raw[KeyResult].(map[string]any); ok {
		r.Result = rv
	}
	if ev, ok := raw[KeyError].(map[string]any); ok {
		r.Error = ev
	}
	return r, nil
}
