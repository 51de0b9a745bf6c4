package automation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"warden/internal/store"
)

// NotificationSink posts a message to the UI's notification surface.
// Notification delivery never fails the pipeline: Notify's error, if any,
// is logged but never turned into a run failure.
type NotificationSink interface {
	Notify(ctx context.Context, domainID, title, body string) error
}

// GTaskClient creates a task in the user's connected Google Tasks list.
// A nil GTaskClient on the Engine means the integration is not connected.
type GTaskClient interface {
	CreateTask(ctx context.Context, title, notes string) (externalID string, err error)
}

// GmailComposer drafts an email via the user's connected Gmail compose
// scope. A nil GmailComposer on the Engine means the scope was never
// granted.
type GmailComposer interface {
	CreateDraft(ctx context.Context, to, subject, body string) (draftID string, err error)
}

var errMissingRecipient = errors.New("automation: draft_gmail action_config missing recipient")

// gmailActionConfig is the only action_config shape the engine currently
// understands; unknown keys are ignored.
type gmailActionConfig struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
}

// splitTitleBody splits responseText into a title (first line) and body
// (remainder); notification and create_gtask both use this split so a
// single LLM response shape serves every action kind.
func splitTitleBody(text string) (title, body string) {
	parts := strings.SplitN(strings.TrimSpace(text), "\n", 2)
	title = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		body = strings.TrimSpace(parts[1])
	}
	return title, body
}

// dispatchAction runs a's actionKind against the LLM's responseText,
// returning a JSON action_result, an externalId, and (on failure) the
// error code and error to finalize the run with.
func (e *Engine) dispatchAction(ctx context.Context, a store.Automation, responseText string) (actionResult, externalID string, code store.RunErrorCode, err error) {
	switch a.ActionKind {
	case store.ActionNotification:
		title, body := splitTitleBody(responseText)
		if e.notifications != nil {
			if nerr := e.notifications.Notify(ctx, a.DomainID, title, body); nerr != nil && e.log != nil {
				e.log.Error("notify for automation %s: %v", a.ID, nerr)
			}
		}
		result, _ := json.Marshal(map[string]string{"title": title, "body": body})
		return string(result), "", "", nil

	case store.ActionCreateGTask:
		if e.gtasks == nil {
			return "", "", store.ErrCodeGTasksNotConnected, errors.New("automation: gtasks integration not connected")
		}
		title, notes := splitTitleBody(responseText)
		id, cerr := e.gtasks.CreateTask(ctx, title, notes)
		if cerr != nil {
			return "", "", store.ErrCodeLLMError, cerr
		}
		result, _ := json.Marshal(map[string]string{"title": title, "notes": notes})
		return string(result), id, "", nil

	case store.ActionDraftGmail:
		if e.gmail == nil {
			return "", "", store.ErrCodeMissingOAuthScope, errors.New("automation: gmail compose scope not granted")
		}
		cfg, cerr := parseGmailActionConfig(a.ActionConfig)
		if cerr != nil {
			return "", "", store.ErrCodeInvalidActionCfg, cerr
		}
		subject, body := splitTitleBody(responseText)
		if cfg.Subject != "" {
			subject = cfg.Subject
		}
		id, derr := e.gmail.CreateDraft(ctx, cfg.Recipient, subject, body)
		if derr != nil {
			return "", "", store.ErrCodeLLMError, derr
		}
		result, _ := json.Marshal(map[string]string{"to": cfg.Recipient, "subject": subject})
		return string(result), id, "", nil

	default:
		return "", "", store.ErrCodeInvalidActionCfg, errors.New("automation: unknown action kind " + string(a.ActionKind))
	}
}

func parseGmailActionConfig(raw string) (gmailActionConfig, error) {
	var cfg gmailActionConfig
	if raw == "" {
		return cfg, errMissingRecipient
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, err
	}
	if cfg.Recipient == "" {
		return cfg, errMissingRecipient
	}
	return cfg, nil
}
