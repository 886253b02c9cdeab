package meta

import (
	"fmt"
	"strings"
)

type SendErrorKind int

const (
	KindOther SendErrorKind = iota
	// KindWindowClosed: the 24h messaging window has expired; one retry with
	// the HUMAN_AGENT tag is allowed.
	KindWindowClosed
	// KindApprovalMissing: the page or app lacks the feature the send needs.
	KindApprovalMissing
)

func (k SendErrorKind) String() string {
	switch k {
	case KindWindowClosed:
		return "window_closed"
	case KindApprovalMissing:
		return "approval_missing"
	default:
		return "other"
	}
}

// Graph error codes and subcodes we classify on.
const (
	codePermission        = 10
	codeNoPermission      = 200
	codeNotAllowed        = 230
	subcodeOutsideWindow  = 2018278
	subcodeTagNotApproved = 2018065
)

// SendError is the only error type returned by SendText and SendImage.
type SendError struct {
	Kind    SendErrorKind
	Message string
	Code    int
	Subcode int
	Status  int
	Tagged  bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("meta send failed (%s, code %d/%d): %s", e.Kind, e.Code, e.Subcode, e.Message)
}

// UserMessage is the text shown to the agent.
func (e *SendError) UserMessage() string {
	switch e.Kind {
	case KindWindowClosed:
		return "The 24-hour messaging window has closed and the human agent tag was not accepted."
	case KindApprovalMissing:
		return "This page is not approved for the Human Agent feature. Request the Human Agent permission in the Meta app dashboard to reply after 24 hours."
	default:
		if e.Message != "" {
			return "Failed to send message to Meta: " + e.Message
		}
		return "Failed to send message to Meta"
	}
}

// classify maps a Graph error onto a SendErrorKind. tagged tells whether the
// failed request already carried a message tag.
func classify(code, subcode int, message string, tagged bool) SendErrorKind {
	lower := strings.ToLower(message)
	if tagged {
		switch {
		case subcode == subcodeTagNotApproved,
			code == codePermission, code == codeNoPermission, code == codeNotAllowed,
			strings.Contains(lower, "human_agent"), strings.Contains(lower, "human agent"):
			return KindApprovalMissing
		}
		return KindOther
	}

	switch {
	case code == codePermission && subcode == subcodeOutsideWindow:
		return KindWindowClosed
	case code == codePermission && strings.Contains(lower, "outside of allowed window"):
		return KindWindowClosed
	case code == codeNoPermission && (strings.Contains(lower, "permission") || strings.Contains(lower, "approv")):
		return KindApprovalMissing
	}
	return KindOther
}
