package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/database"
	"chatflow/internal/models"
	"chatflow/pkg/messaging"

	"github.com/sirupsen/logrus"
)

// EventPublisher fans an outbound event to the workspace's subscribed
// webhook endpoints. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, workspaceID int64, eventType string, data interface{})
}

// Engine executes flow graphs. Execution is synchronous until the first
// suspension node; everything after a suspension is driven either by the
// scheduler (timed delays, flow jumps) or by the next inbound message
// (wait-style nodes). All durable state lives in the flow_sessions row.
type Engine struct {
	db         *database.Database
	provider   messaging.Provider
	analytics  *AnalyticsRecorder
	events     EventPublisher
	httpClient *http.Client
	logger     *logrus.Logger

	now     func() time.Time
	randInt func(n int) int
}

func NewEngine(db *database.Database, provider messaging.Provider, analytics *AnalyticsRecorder, events EventPublisher, logger *logrus.Logger) *Engine {
	return &Engine{
		db:         db,
		provider:   provider,
		analytics:  analytics,
		events:     events,
		httpClient: &http.Client{Timeout: constants.FlowWebhookTimeout},
		logger:     logger,
		now:        time.Now,
		randInt:    rand.Intn,
	}
}

// runContext carries everything one execution needs. It is re-hydrated from
// the session row on every resume.
type runContext struct {
	flow         *models.Flow
	session      *models.FlowSession
	contact      *models.Contact
	conversation *models.Conversation
	channel      *models.Channel
	vars         map[string]string
}

// Start begins a new session for a matched trigger and runs it until the
// flow completes or suspends.
func (e *Engine) Start(ctx context.Context, trigger *models.Trigger, contact *models.Contact, conv *models.Conversation, channel *models.Channel, lastMessage string) error {
	flow, err := e.db.GetFlow(ctx, trigger.FlowID)
	if err != nil {
		return fmt.Errorf("failed to load flow: %w", err)
	}
	if flow == nil || flow.Status != models.FlowStatusPublished {
		return nil
	}

	vars := map[string]string{
		models.VarLastMessage: lastMessage,
		models.VarContactName: contact.Name,
		models.VarUsername:    contact.Username,
		models.VarPlatform:    channel.Platform,
	}
	for k, v := range contact.CustomFields {
		vars[k] = v
	}

	session := &models.FlowSession{
		WorkspaceID:    flow.WorkspaceID,
		FlowID:         flow.ID,
		ContactID:      contact.ID,
		ConversationID: conv.ID,
		ChannelID:      channel.ID,
		CurrentNodeID:  trigger.NodeID,
		Status:         models.SessionStatusActive,
		Variables:      vars,
	}
	session.ID, err = e.db.CreateFlowSession(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to create flow session: %w", err)
	}

	e.analytics.Record(ctx, flow.WorkspaceID, models.AnalyticsFlowStarted, &contact.ID, &flow.ID)
	e.publish(ctx, flow.WorkspaceID, models.WebhookEventFlowStarted, map[string]interface{}{
		"flow_id":    flow.ID,
		"contact_id": contact.ID,
		"session_id": session.ID,
	})

	rc := &runContext{flow: flow, session: session, contact: contact, conversation: conv, channel: channel, vars: vars}
	return e.run(ctx, rc, e.startNode(flow, trigger.NodeID))
}

// Resume continues a session from a scheduler job. A session that is no
// longer active (cancelled opt-out, already completed) is a no-op, not an
// error, so stale resume jobs drain cleanly.
func (e *Engine) Resume(ctx context.Context, sessionID int64) error {
	session, err := e.db.GetFlowSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load flow session: %w", err)
	}
	if session == nil || session.Status != models.SessionStatusActive {
		return nil
	}

	rc, err := e.hydrate(ctx, session)
	if err != nil {
		return err
	}

	var node *models.FlowNode
	if session.CurrentNodeID == "" {
		// Session created by a flow jump; begin at the entry node itself.
		node = rc.flow.Node(rc.flow.EntryNodeID)
	} else {
		node = e.startNode(rc.flow, session.CurrentNodeID)
	}
	return e.run(ctx, rc, node)
}

// Wake continues a session parked at a wait-style node when the contact
// sends the next inbound message.
func (e *Engine) Wake(ctx context.Context, session *models.FlowSession, text string) error {
	rc, err := e.hydrate(ctx, session)
	if err != nil {
		return err
	}
	rc.vars[models.VarLastMessage] = text
	return e.run(ctx, rc, e.startNode(rc.flow, session.CurrentNodeID))
}

// WaitingForInput reports whether the session is parked at a node that the
// next inbound message should wake. Handoff parks count too: the automation
// pause holds inbound traffic off the session, so the wake fires on the
// first message after an operator unpauses the conversation.
func (e *Engine) WaitingForInput(ctx context.Context, session *models.FlowSession) (bool, error) {
	flow, err := e.db.GetFlow(ctx, session.FlowID)
	if err != nil {
		return false, fmt.Errorf("failed to load flow: %w", err)
	}
	if flow == nil {
		return false, nil
	}
	node := flow.Node(session.CurrentNodeID)
	if node == nil {
		return false, nil
	}
	return node.Type == models.NodeWaitInput || node.Type == models.NodeAIHandoff ||
		node.Type == models.NodeHumanHandoff, nil
}

func (e *Engine) hydrate(ctx context.Context, session *models.FlowSession) (*runContext, error) {
	flow, err := e.db.GetFlow(ctx, session.FlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	if flow == nil {
		return nil, fmt.Errorf("flow %d not found for session %d", session.FlowID, session.ID)
	}
	contact, err := e.db.GetContact(ctx, session.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	if contact == nil {
		return nil, fmt.Errorf("contact %d not found for session %d", session.ContactID, session.ID)
	}
	conv, err := e.db.GetConversation(ctx, session.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %d not found for session %d", session.ConversationID, session.ID)
	}
	channel, err := e.db.GetChannel(ctx, session.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel: %w", err)
	}
	if channel == nil {
		return nil, fmt.Errorf("channel %d not found for session %d", session.ChannelID, session.ID)
	}

	vars := session.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	return &runContext{flow: flow, session: session, contact: contact, conversation: conv, channel: channel, vars: vars}, nil
}

// startNode resolves the first node to execute after the given node: the
// target of its first outgoing edge.
func (e *Engine) startNode(flow *models.Flow, fromNodeID string) *models.FlowNode {
	edges := flow.OutgoingEdges(fromNodeID)
	if len(edges) == 0 {
		return nil
	}
	return flow.Node(edges[0].To)
}

func (e *Engine) run(ctx context.Context, rc *runContext, node *models.FlowNode) error {
	for steps := 0; node != nil; steps++ {
		if steps >= constants.MaxFlowSteps {
			err := fmt.Errorf("flow %d exceeded %d steps in session %d", rc.flow.ID, constants.MaxFlowSteps, rc.session.ID)
			e.failRun(ctx, rc, err)
			return err
		}

		next, suspended, err := e.executeNode(ctx, rc, node)
		if err != nil {
			e.failRun(ctx, rc, err)
			return err
		}
		if suspended {
			return nil
		}
		node = next
	}

	finished, err := e.db.FinishSession(ctx, rc.session.ID, models.SessionStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if finished {
		e.analytics.Record(ctx, rc.flow.WorkspaceID, models.AnalyticsFlowCompleted, &rc.contact.ID, &rc.flow.ID)
		e.publish(ctx, rc.flow.WorkspaceID, models.WebhookEventFlowCompleted, map[string]interface{}{
			"flow_id":    rc.flow.ID,
			"contact_id": rc.contact.ID,
			"session_id": rc.session.ID,
		})
	}
	return nil
}

func (e *Engine) failRun(ctx context.Context, rc *runContext, runErr error) {
	e.logger.WithError(runErr).WithFields(logrus.Fields{
		"flow_id":    rc.flow.ID,
		"session_id": rc.session.ID,
	}).Error("Flow execution failed")

	if _, err := e.db.FinishSession(ctx, rc.session.ID, models.SessionStatusCancelled); err != nil {
		e.logger.WithError(err).Warn("Failed to cancel session after execution error")
	}
	e.analytics.Record(ctx, rc.flow.WorkspaceID, models.AnalyticsFlowFailed, &rc.contact.ID, &rc.flow.ID)
}

// executeNode runs one node. It returns the next node to execute, or
// suspended=true when traversal must stop with the session parked at the
// current node.
func (e *Engine) executeNode(ctx context.Context, rc *runContext, node *models.FlowNode) (*models.FlowNode, bool, error) {
	switch node.Type {
	case models.NodeMessage:
		return e.execMessage(ctx, rc, node)
	case models.NodeCondition:
		return e.execCondition(rc, node)
	case models.NodeDelay:
		return nil, true, e.execDelay(ctx, rc, node)
	case models.NodeAction:
		return e.execAction(ctx, rc, node)
	case models.NodeWebhook:
		return e.execWebhook(ctx, rc, node)
	case models.NodeSequence:
		return e.execSequence(ctx, rc, node)
	case models.NodeABSplit:
		return e.execABSplit(rc, node)
	case models.NodeHumanHandoff:
		return nil, true, e.execHumanHandoff(ctx, rc, node)
	case models.NodeGoToFlow:
		return nil, true, e.execGoToFlow(ctx, rc, node)
	case models.NodeWaitInput, models.NodeAIHandoff:
		return nil, true, e.park(ctx, rc, node)
	default:
		return nil, false, fmt.Errorf("unknown node type %q at node %s", node.Type, node.ID)
	}
}

func (e *Engine) execMessage(ctx context.Context, rc *runContext, node *models.FlowNode) (*models.FlowNode, bool, error) {
	var cfg models.MessageNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return nil, false, fmt.Errorf("invalid message node config at %s: %w", node.ID, err)
	}

	text := Interpolate(cfg.Text, rc.vars)
	deliveryErr, err := deliverMessage(ctx, e.db, e.provider, rc.channel, rc.conversation, text)
	if err != nil {
		return nil, false, err
	}
	if deliveryErr != nil {
		// A provider rejection is recorded on the message, not fatal to
		// the flow.
		e.logger.WithError(deliveryErr).WithField("node_id", node.ID).Warn("Flow message delivery failed")
		e.analytics.Record(ctx, rc.flow.WorkspaceID, models.AnalyticsMessageFailed, &rc.contact.ID, &rc.flow.ID)
	} else {
		e.analytics.Record(ctx, rc.flow.WorkspaceID, models.AnalyticsMessageSent, &rc.contact.ID, &rc.flow.ID)
		e.publish(ctx, rc.flow.WorkspaceID, models.WebhookEventMessageSent, map[string]interface{}{
			"contact_id":      rc.contact.ID,
			"conversation_id": rc.conversation.ID,
			"text":            text,
		})
	}
	return e.startNode(rc.flow, node.ID), false, nil
}

func (e *Engine) execCondition(rc *runContext, node *models.FlowNode) (*models.FlowNode, bool, error) {
	var cfg models.ConditionNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return nil, false, fmt.Errorf("invalid condition node config at %s: %w", node.ID, err)
	}

	label := "false"
	if evaluateConditions(cfg, rc) {
		label = "true"
	}
	return rc.flow.NextNode(node.ID, label), false, nil
}

func (e *Engine) execDelay(ctx context.Context, rc *runContext, node *models.FlowNode) error {
	var cfg models.DelayNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return fmt.Errorf("invalid delay node config at %s: %w", node.ID, err)
	}

	if err := e.db.SaveSessionCursor(ctx, rc.session.ID, node.ID, rc.vars); err != nil {
		return err
	}
	runAt := e.now().UTC().Add(time.Duration(cfg.DelayMinutes) * time.Minute)
	_, err := e.db.EnqueueJob(ctx, models.JobTypeResumeFlow, models.ResumeFlowPayload{SessionID: rc.session.ID}, runAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue resume job: %w", err)
	}
	return nil
}

func (e *Engine) execAction(ctx context.Context, rc *runContext, node *models.FlowNode) (*models.FlowNode, bool, error) {
	var cfg models.ActionNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return nil, false, fmt.Errorf("invalid action node config at %s: %w", node.ID, err)
	}

	var err error
	switch cfg.Action {
	case models.ActionAddTag:
		err = e.db.AddContactTag(ctx, rc.contact.ID, cfg.Tag)
	case models.ActionRemoveTag:
		err = e.db.RemoveContactTag(ctx, rc.contact.ID, cfg.Tag)
	case models.ActionSetField:
		value := Interpolate(cfg.Value, rc.vars)
		err = e.db.SetContactField(ctx, rc.contact.ID, cfg.Field, value)
		if err == nil {
			rc.vars[cfg.Field] = value
			if rc.contact.CustomFields == nil {
				rc.contact.CustomFields = map[string]string{}
			}
			rc.contact.CustomFields[cfg.Field] = value
		}
	case models.ActionSubscribe:
		err = e.db.SetContactSubscribed(ctx, rc.contact.ID, true)
	case models.ActionUnsubscribe:
		err = e.db.SetContactSubscribed(ctx, rc.contact.ID, false)
	default:
		err = fmt.Errorf("unknown action %q", cfg.Action)
	}
	if err != nil {
		return nil, false, fmt.Errorf("action node %s failed: %w", node.ID, err)
	}
	return e.startNode(rc.flow, node.ID), false, nil
}

func (e *Engine) execWebhook(ctx context.Context, rc *runContext, node *models.FlowNode) (*models.FlowNode, bool, error) {
	var cfg models.WebhookNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return nil, false, fmt.Errorf("invalid webhook node config at %s: %w", node.ID, err)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	var body *bytes.Reader
	if cfg.Body != "" {
		body = bytes.NewReader([]byte(Interpolate(cfg.Body, rc.vars)))
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, Interpolate(cfg.URL, rc.vars), body)
	if err != nil {
		return nil, false, fmt.Errorf("invalid webhook node request at %s: %w", node.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	// External call outcome never decides the branch; failures are logged
	// and traversal continues.
	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.WithError(err).WithField("node_id", node.ID).Warn("Flow webhook call failed")
	} else {
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			e.logger.WithFields(logrus.Fields{
				"node_id": node.ID,
				"status":  resp.StatusCode,
			}).Warn("Flow webhook call returned error status")
		}
	}
	return e.startNode(rc.flow, node.ID), false, nil
}

func (e *Engine) execSequence(ctx context.Context, rc *runContext, node *models.FlowNode) (*models.FlowNode, bool, error) {
	var cfg models.SequenceNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return nil, false, fmt.Errorf("invalid sequence node config at %s: %w", node.ID, err)
	}

	seq, err := e.db.GetSequence(ctx, cfg.SequenceID)
	if err != nil {
		return nil, false, fmt.Errorf("sequence node %s failed: %w", node.ID, err)
	}
	if seq == nil {
		return nil, false, fmt.Errorf("sequence %d not found at node %s", cfg.SequenceID, node.ID)
	}

	// A leading delay step holds the first processing; delays further in are
	// applied as the cursor advances past them.
	nextStepAt := e.now().UTC()
	if len(seq.Steps) > 0 && seq.Steps[0].Type == models.StepDelay {
		nextStepAt = nextStepAt.Add(time.Duration(seq.Steps[0].DelayMinutes) * time.Minute)
	}

	enrollment := &models.SequenceEnrollment{
		SequenceID:     cfg.SequenceID,
		ContactID:      rc.contact.ID,
		ChannelID:      rc.channel.ID,
		ConversationID: rc.conversation.ID,
		NextStepAt:     nextStepAt,
		Status:         models.EnrollmentStatusActive,
	}
	if _, err := e.db.EnrollContact(ctx, enrollment); err != nil {
		return nil, false, fmt.Errorf("sequence node %s failed: %w", node.ID, err)
	}
	return e.startNode(rc.flow, node.ID), false, nil
}

func (e *Engine) execABSplit(rc *runContext, node *models.FlowNode) (*models.FlowNode, bool, error) {
	var cfg models.ABSplitNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return nil, false, fmt.Errorf("invalid split node config at %s: %w", node.ID, err)
	}

	total := 0
	for _, b := range cfg.Branches {
		if b.Weight > 0 {
			total += b.Weight
		}
	}
	if total == 0 {
		return e.startNode(rc.flow, node.ID), false, nil
	}

	draw := e.randInt(total)
	cumulative := 0
	for _, b := range cfg.Branches {
		if b.Weight <= 0 {
			continue
		}
		cumulative += b.Weight
		if draw < cumulative {
			return rc.flow.NextNode(node.ID, b.Label), false, nil
		}
	}
	return nil, false, nil
}

func (e *Engine) execHumanHandoff(ctx context.Context, rc *runContext, node *models.FlowNode) error {
	if err := e.db.SetAutomationPaused(ctx, rc.conversation.ID, true); err != nil {
		return fmt.Errorf("handoff node %s failed: %w", node.ID, err)
	}
	return e.park(ctx, rc, node)
}

func (e *Engine) execGoToFlow(ctx context.Context, rc *runContext, node *models.FlowNode) error {
	var cfg models.GoToFlowNodeConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return fmt.Errorf("invalid flow jump config at %s: %w", node.ID, err)
	}

	target, err := e.db.GetFlow(ctx, cfg.FlowID)
	if err != nil {
		return fmt.Errorf("failed to load jump target flow: %w", err)
	}
	if target == nil || target.Status != models.FlowStatusPublished {
		return fmt.Errorf("jump target flow %d is not published", cfg.FlowID)
	}

	finished, err := e.db.FinishSession(ctx, rc.session.ID, models.SessionStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete session before jump: %w", err)
	}
	if finished {
		e.analytics.Record(ctx, rc.flow.WorkspaceID, models.AnalyticsFlowCompleted, &rc.contact.ID, &rc.flow.ID)
	}

	next := &models.FlowSession{
		WorkspaceID:    target.WorkspaceID,
		FlowID:         target.ID,
		ContactID:      rc.contact.ID,
		ConversationID: rc.conversation.ID,
		ChannelID:      rc.channel.ID,
		CurrentNodeID:  "",
		Status:         models.SessionStatusActive,
		Variables:      rc.vars,
	}
	next.ID, err = e.db.CreateFlowSession(ctx, next)
	if err != nil {
		return fmt.Errorf("failed to create session for jump: %w", err)
	}

	e.analytics.Record(ctx, target.WorkspaceID, models.AnalyticsFlowStarted, &rc.contact.ID, &target.ID)
	_, err = e.db.EnqueueJob(ctx, models.JobTypeResumeFlow, models.ResumeFlowPayload{SessionID: next.ID}, e.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue jump resume job: %w", err)
	}
	return nil
}

// park persists the cursor at a wait-style node. The session stays active;
// the next inbound message (or nothing, ever) wakes it.
func (e *Engine) park(ctx context.Context, rc *runContext, node *models.FlowNode) error {
	if err := e.db.SaveSessionCursor(ctx, rc.session.ID, node.ID, rc.vars); err != nil {
		return err
	}
	rc.session.CurrentNodeID = node.ID
	return nil
}

func (e *Engine) publish(ctx context.Context, workspaceID int64, eventType string, data interface{}) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, workspaceID, eventType, data)
}

func evaluateConditions(cfg models.ConditionNodeConfig, rc *runContext) bool {
	if len(cfg.Conditions) == 0 {
		return true
	}

	any := strings.EqualFold(cfg.Combinator, models.CombinatorOr)
	for _, rule := range cfg.Conditions {
		ok := evaluateRule(rule, rc)
		if any && ok {
			return true
		}
		if !any && !ok {
			return false
		}
	}
	return !any
}

func evaluateRule(rule models.ConditionRule, rc *runContext) bool {
	value, exists := lookupField(rule.Field, rc)

	switch rule.Operator {
	case "equals":
		return exists && strings.EqualFold(value, rule.Value)
	case "not_equals":
		return !exists || !strings.EqualFold(value, rule.Value)
	case "contains":
		return exists && strings.Contains(strings.ToLower(value), strings.ToLower(rule.Value))
	case "exists":
		return exists && value != ""
	case "greater_than":
		return compareNumeric(value, rule.Value, exists, func(a, b float64) bool { return a > b })
	case "less_than":
		return compareNumeric(value, rule.Value, exists, func(a, b float64) bool { return a < b })
	default:
		return false
	}
}

func compareNumeric(value, against string, exists bool, cmp func(a, b float64) bool) bool {
	if !exists {
		return false
	}
	a, errA := strconv.ParseFloat(strings.TrimSpace(value), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(against), 64)
	if errA != nil || errB != nil {
		return false
	}
	return cmp(a, b)
}

func lookupField(field string, rc *runContext) (string, bool) {
	if v, ok := rc.vars[field]; ok {
		return v, true
	}
	if v, ok := rc.contact.CustomFields[field]; ok {
		return v, true
	}
	switch field {
	case "name":
		return rc.contact.Name, true
	case "username":
		return rc.contact.Username, true
	case "platform":
		return rc.channel.Platform, true
	case "is_subscribed":
		return strconv.FormatBool(rc.contact.IsSubscribed), true
	}
	return "", false
}

var interpolationPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Interpolate substitutes {{token}} placeholders from vars. Unresolved
// tokens are left verbatim.
func Interpolate(text string, vars map[string]string) string {
	return interpolationPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := interpolationPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[token]; ok {
			return v
		}
		return match
	})
}
