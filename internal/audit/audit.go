package audit

import (
	"context"

	"github.com/weiawesome/wes-io-talk/pkg/log"
)

// Audit actions for talk-service.
const (
	ActionConnect        = "talk.connect"
	ActionAuthFailed     = "talk.auth_failed"
	ActionDisconnect     = "talk.disconnect"
	ActionReplaced       = "talk.connection_replaced"
	ActionSendMessage    = "talk.send_message"
	ActionRecallMessage  = "talk.recall_message"
	ActionRecallDenied   = "talk.recall_denied"
	ActionCallTransition = "talk.call_transition"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogTarget emits an audit entry that names the object acted on.
func LogTarget(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	ev := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID)
	if detail != "" {
		ev = ev.Str(FieldDetail, detail)
	}
	ev.Msg(msg)
}
