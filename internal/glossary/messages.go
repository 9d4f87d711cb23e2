// Package glossary centralizes the log and user-facing phrases emitted by
// the runtime so operators can grep for them and embedders can override the
// user-visible ones.
package glossary

// Messages is the overridable phrase table. Log phrases are used as slog
// messages with structured attributes (bot_id, chat_id, page_id) attached at
// the call site; PageRejected and ValidationFailed are sent to end users.
type Messages struct {
	RuntimeInitialized     string
	BotIDResolutionFailed  string
	InvalidHandler         string
	HandlerMissingListener string
	PageNotFound           string
	NextPageNotFound       string
	MessageHandlingError   string
	MiddlewareError        string
	NoInitialPage          string
	ValidationFailed       string
	PageRejected           string
}

// Default returns the built-in English table.
func Default() Messages {
	return Messages{
		RuntimeInitialized:     "bot runtime initialized",
		BotIDResolutionFailed:  "bot id could not be resolved from options",
		InvalidHandler:         "invalid handler configuration",
		HandlerMissingListener: "handler registered without a listener",
		PageNotFound:           "page not found",
		NextPageNotFound:       "next page not found",
		MessageHandlingError:   "message handling failed",
		MiddlewareError:        "middleware pipeline failed",
		NoInitialPage:          "no initial page configured",
		ValidationFailed:       "input validation failed",
		PageRejected:           "You cannot open this page right now.",
	}
}

// Merge overlays the non-empty fields of override onto base.
func Merge(base Messages, override *Messages) Messages {
	if override == nil {
		return base
	}
	merge := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	merge(&base.RuntimeInitialized, override.RuntimeInitialized)
	merge(&base.BotIDResolutionFailed, override.BotIDResolutionFailed)
	merge(&base.InvalidHandler, override.InvalidHandler)
	merge(&base.HandlerMissingListener, override.HandlerMissingListener)
	merge(&base.PageNotFound, override.PageNotFound)
	merge(&base.NextPageNotFound, override.NextPageNotFound)
	merge(&base.MessageHandlingError, override.MessageHandlingError)
	merge(&base.MiddlewareError, override.MiddlewareError)
	merge(&base.NoInitialPage, override.NoInitialPage)
	merge(&base.ValidationFailed, override.ValidationFailed)
	merge(&base.PageRejected, override.PageRejected)
	return base
}
