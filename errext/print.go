package errext

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Format reduces err to the message text and structured fields a logger
// or a JSON error report should show: the Exception's stack trace if
// present (falling back to err.Error()), plus a "hint" field when the
// error chain carries one. A nil err yields ("", nil).
func Format(err error) (string, logrus.Fields) {
	if err == nil {
		return "", nil
	}

	text := err.Error()
	var exc Exception
	if errors.As(err, &exc) {
		text = exc.StackTrace()
	}

	var fields logrus.Fields
	var hinted HasHint
	if errors.As(err, &hinted) {
		fields = logrus.Fields{"hint": hinted.Hint()}
	}

	return text, fields
}

// Fprint logs err at error level through logger, attaching any fields
// Format extracted. It is a no-op for a nil err so call sites don't need
// to guard every error path with an extra nil check.
func Fprint(logger logrus.FieldLogger, err error) {
	if err == nil {
		return
	}
	text, fields := Format(err)
	logger.WithFields(fields).Error(text)
}
