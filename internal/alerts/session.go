package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/portfolio"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

// SessionNotifier adapts a Manager into the Coordinator's Notifier
// interface, translating the domain-level types.Alert the trading loop
// raises into the Alert shape Manager's channels already know how to
// send.
type SessionNotifier struct {
	manager *Manager
}

// NewSessionNotifier wraps manager so it can be passed as
// coordinator.Deps.Notifier.
func NewSessionNotifier(manager *Manager) *SessionNotifier {
	return &SessionNotifier{manager: manager}
}

// Notify implements coordinator.Notifier.
func (n *SessionNotifier) Notify(ctx context.Context, alert types.Alert) error {
	severity := SeverityInfo
	if alert.ActionRequired {
		severity = SeverityWarning
	}
	if alert.Kind == types.AlertSuddenMove || alert.Kind == types.AlertOrderFailed {
		severity = SeverityCritical
	}

	metadata := map[string]interface{}{"alert_id": alert.ID, "kind": string(alert.Kind)}
	for k, v := range alert.Payload {
		metadata[k] = v
	}
	if alert.ActionRequired {
		opts := make([]string, 0, len(alert.Options))
		for _, o := range alert.Options {
			opts = append(opts, string(o))
		}
		metadata["options"] = strings.Join(opts, ", ")
	}

	return n.manager.Send(ctx, Alert{
		Title:    alert.Title,
		Message:  alert.Message,
		Severity: severity,
		Metadata: metadata,
	})
}

// SessionHandler resolves the commands a CommandListener receives. A
// sessionmgr.Manager and an alert-resolving Coordinator each implement a
// slice of this independently, avoiding an import cycle between alerts
// and sessionmgr.
type SessionHandler interface {
	Approve(ctx context.Context, sessionID string, quantity *float64) (portfolio.AllocationPlan, error)
	Reject(sessionID, feedback string) error
	Cancel(sessionID string) error
}

// AlertHandler resolves a pending risk-monitor alert.
type AlertHandler interface {
	HandleAlertAction(ctx context.Context, alertID string, action types.AlertAction, data map[string]any) error
}

// CommandListener polls a Telegram bot's update feed for the
// /approve, /reject, /cancel, and /alert commands a human reviewer sends
// in response to a Notify message, and dispatches them to the session
// and alert handlers. It is the inbound half of the Telegram channel;
// TelegramAlerter (outbound) only sends.
type CommandListener struct {
	api      *tgbotapi.BotAPI
	sessions SessionHandler
	alerts   AlertHandler
	log      zerolog.Logger
}

// NewCommandListener builds a listener sharing botToken's bot with an
// outbound TelegramAlerter (both should be constructed from the same
// token so replies land in the same chat history).
func NewCommandListener(botToken string, sessions SessionHandler, alerts AlertHandler, log zerolog.Logger) (*CommandListener, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("command listener: %w", err)
	}
	return &CommandListener{api: api, sessions: sessions, alerts: alerts, log: log}, nil
}

// Listen blocks processing updates until ctx is cancelled.
func (l *CommandListener) Listen(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := l.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			l.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			l.dispatch(ctx, update.Message)
		}
	}
}

func (l *CommandListener) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	reply := ""

	switch msg.Command() {
	case "approve":
		if len(args) < 1 {
			reply = "usage: /approve <session_id> [quantity]"
			break
		}
		var qty *float64
		if len(args) >= 2 {
			if v, err := strconv.ParseFloat(args[1], 64); err == nil {
				qty = &v
			}
		}
		if _, err := l.sessions.Approve(ctx, args[0], qty); err != nil {
			reply = fmt.Sprintf("approve failed: %v", err)
		} else {
			reply = fmt.Sprintf("session %s approved", args[0])
		}
	case "reject":
		if len(args) < 1 {
			reply = "usage: /reject <session_id> [feedback]"
			break
		}
		feedback := strings.Join(args[1:], " ")
		if err := l.sessions.Reject(args[0], feedback); err != nil {
			reply = fmt.Sprintf("reject failed: %v", err)
		} else {
			reply = fmt.Sprintf("session %s sent back for re-analysis", args[0])
		}
	case "cancel":
		if len(args) < 1 {
			reply = "usage: /cancel <session_id>"
			break
		}
		if err := l.sessions.Cancel(args[0]); err != nil {
			reply = fmt.Sprintf("cancel failed: %v", err)
		} else {
			reply = fmt.Sprintf("session %s cancelled", args[0])
		}
	case "alert":
		if len(args) < 2 {
			reply = "usage: /alert <alert_id> <resume|close-position|adjust-stop-loss|execute-stop-loss|execute-take-profit|hold>"
			break
		}
		if err := l.alerts.HandleAlertAction(ctx, args[0], types.AlertAction(args[1]), nil); err != nil {
			reply = fmt.Sprintf("alert action failed: %v", err)
		} else {
			reply = fmt.Sprintf("alert %s resolved: %s", args[0], args[1])
		}
	default:
		return
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, reply)
	if _, err := l.api.Send(out); err != nil {
		l.log.Warn().Err(err).Msg("failed to send command reply")
	}
}
