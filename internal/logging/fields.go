package logging

import "log/slog"

// Common field names so collector and emitter logs line up.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldEvent     = "event"
	FieldEventID   = "event_id"
	FieldEndpoint  = "endpoint"
	FieldOutcome   = "outcome"
	FieldStatus    = "status"
	FieldIP        = "ip"
	FieldError     = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func Event(name string) slog.Attr {
	return slog.String(FieldEvent, name)
}

func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

func Endpoint(url string) slog.Attr {
	return slog.String(FieldEndpoint, url)
}

func Outcome(outcome string) slog.Attr {
	return slog.String(FieldOutcome, outcome)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Error returns a slog attribute for err. A nil error yields an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
