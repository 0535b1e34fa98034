package dispatch

import "errors"

// KindError carries a machine-readable code the UI tier maps onto its
// error taxonomy. Message text is shown to the user verbatim.
type KindError struct {
	Code string
	Msg  string
}

func (e *KindError) Error() string { return e.Msg }

func kindErr(code, msg string) *KindError { return &KindError{Code: code, Msg: msg} }

// Kind extracts the code from an error chain, or "" for plain errors.
func Kind(err error) string {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}
