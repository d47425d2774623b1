package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavkata12/client8/internal/domain"
)

const maxFrameEcho = 120

// Frame type names. Older authorities send the aliases.
const (
	frameForceLogout   = "force_logout"
	frameTimeUpdate    = "time_update"
	frameSecurityAlert = "security_alert"
	frameNotice        = "notice"

	frameSessionEnded  = "session_ended"  // force_logout
	frameSessionUpdate = "session_update" // time_update in seconds
	frameMessage       = "message"        // notice
)

type frame struct {
	Type          string   `json:"type"`
	Minutes       *float64 `json:"minutes"`
	Seconds       *int     `json:"seconds"`
	RemainingTime *int     `json:"remaining_time"`
	Message       string   `json:"message"`
}

// DecodeFrame turns one push frame into a message. Malformed and unknown
// frames yield a *domain.ProtocolError.
func DecodeFrame(data []byte) (domain.PushMessage, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.PushMessage{}, protocolError(data, err)
	}

	switch f.Type {
	case frameForceLogout, frameSessionEnded:
		return domain.PushMessage{Kind: domain.PushForceLogout, Message: f.Message}, nil

	case frameTimeUpdate, frameSessionUpdate:
		switch {
		case f.Seconds != nil:
			return domain.PushMessage{Kind: domain.PushTimeUpdate, Seconds: *f.Seconds}, nil
		case f.RemainingTime != nil:
			return domain.PushMessage{Kind: domain.PushTimeUpdate, Seconds: *f.RemainingTime}, nil
		case f.Minutes != nil:
			return domain.PushMessage{Kind: domain.PushTimeUpdate, Seconds: int(*f.Minutes * 60)}, nil
		}
		return domain.PushMessage{}, protocolError(data, errors.New("time update without a time field"))

	case frameSecurityAlert:
		return domain.PushMessage{Kind: domain.PushSecurityAlert, Message: f.Message}, nil

	case frameNotice, frameMessage:
		return domain.PushMessage{Kind: domain.PushNotice, Message: f.Message}, nil

	case "":
		return domain.PushMessage{}, protocolError(data, errors.New("frame without type"))
	}
	return domain.PushMessage{}, protocolError(data, fmt.Errorf("unknown frame type %q", f.Type))
}

func protocolError(data []byte, err error) *domain.ProtocolError {
	s := string(data)
	if len(s) > maxFrameEcho {
		s = s[:maxFrameEcho] + "..."
	}
	return &domain.ProtocolError{Frame: s, Err: err}
}
