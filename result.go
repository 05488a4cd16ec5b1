package storeauth

import "log"

// ActionResult is the uniform outcome every action reports to clients.
type ActionResult struct {
	Result          bool   `json:"result"`
	Message         string `json:"message"`
	CooldownSeconds int    `json:"cooldown_seconds,omitempty"`
	Next            string `json:"next,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// OK builds a successful result.
func OK(message string, next Step) ActionResult {
	return ActionResult{Result: true, Message: message, Next: next.String()}
}

// ResultFromError converts err into a failed result. Infrastructure and
// unclassified errors are logged and replaced by a generic message.
func ResultFromError(err error) ActionResult {
	if err == nil {
		return ActionResult{Result: true, Message: "OK"}
	}
	switch KindOf(err) {
	case KindRateLimited:
		res := ActionResult{Message: ErrRateLimited.msg}
		if rl, ok := asRateLimit(err); ok {
			res.CooldownSeconds = rl.CooldownSeconds()
		}
		return res
	case KindUnavailable, KindInternal:
		log.Printf("storeauth: action failed: %v", err)
		return ActionResult{Message: ErrUnavailable.msg}
	default:
		return ActionResult{Message: err.Error()}
	}
}
