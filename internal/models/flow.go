package models

import (
	"encoding/json"
	"time"
)

// FlowStatus is the lifecycle state of a flow. Only published flows'
// triggers are eligible to fire.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"
	FlowStatusPublished FlowStatus = "published"
	FlowStatusArchived  FlowStatus = "archived"
)

// NodeType identifies the behavior of one node in a flow graph.
type NodeType string

const (
	NodeMessage      NodeType = "message"
	NodeCondition    NodeType = "condition"
	NodeDelay        NodeType = "delay"
	NodeAction       NodeType = "action"
	NodeWebhook      NodeType = "webhook"
	NodeAIHandoff    NodeType = "aiHandoff"
	NodeSequence     NodeType = "sequence"
	NodeABSplit      NodeType = "abSplit"
	NodeHumanHandoff NodeType = "humanHandoff"
	NodeGoToFlow     NodeType = "goToFlow"
	NodeWaitInput    NodeType = "waitInput"
)

// Flow is a graph of typed nodes and edges. The graph document is written
// whole by the editor and stored as JSON columns.
type Flow struct {
	ID          int64      `json:"id"`
	WorkspaceID int64      `json:"workspace_id"`
	Name        string     `json:"name"`
	Status      FlowStatus `json:"status"`
	EntryNodeID string     `json:"entry_node_id"`
	Nodes       []FlowNode `json:"nodes"`
	Edges       []FlowEdge `json:"edges"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FlowNode is one node in the graph. Config is decoded per Type.
type FlowNode struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// FlowEdge connects two nodes. Label selects the edge when a node has
// multiple outgoing paths ("true"/"false" for conditions, the branch label
// for A/B splits, empty otherwise).
type FlowEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Node returns the node with the given id, or nil.
func (f *Flow) Node(id string) *FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns all edges leaving the given node.
func (f *Flow) OutgoingEdges(nodeID string) []FlowEdge {
	var out []FlowEdge
	for _, e := range f.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// NextNode returns the target of the first outgoing edge with the given
// label, or nil when the node has no such edge.
func (f *Flow) NextNode(nodeID, label string) *FlowNode {
	for _, e := range f.Edges {
		if e.From == nodeID && e.Label == label {
			return f.Node(e.To)
		}
	}
	return nil
}

// MessageNodeConfig configures a message node.
type MessageNodeConfig struct {
	Text         string   `json:"text"`
	QuickReplies []string `json:"quick_replies,omitempty"`
}

// ConditionRule is one predicate of a condition node.
type ConditionRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// ConditionNodeConfig configures a condition node. Combinator is "AND" or
// "OR" over Conditions.
type ConditionNodeConfig struct {
	Combinator string          `json:"combinator"`
	Conditions []ConditionRule `json:"conditions"`
}

// DelayNodeConfig configures a delay node.
type DelayNodeConfig struct {
	DelayMinutes int `json:"delay_minutes"`
}

// Action kinds for action nodes.
const (
	ActionAddTag      = "add_tag"
	ActionRemoveTag   = "remove_tag"
	ActionSetField    = "set_field"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ActionNodeConfig configures an action node mutating the contact.
type ActionNodeConfig struct {
	Action string `json:"action"`
	Tag    string `json:"tag,omitempty"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
}

// WebhookNodeConfig configures an external HTTP call node.
type WebhookNodeConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ABBranch is one weighted branch of an A/B split node. The branch label
// must match an outgoing edge label.
type ABBranch struct {
	Label  string `json:"label"`
	Weight int    `json:"weight"`
}

// ABSplitNodeConfig configures a weighted split node.
type ABSplitNodeConfig struct {
	Branches []ABBranch `json:"branches"`
}

// SequenceNodeConfig configures a sequence enrollment node.
type SequenceNodeConfig struct {
	SequenceID int64 `json:"sequence_id"`
}

// GoToFlowNodeConfig configures a jump to another flow.
type GoToFlowNodeConfig struct {
	FlowID int64 `json:"flow_id"`
}
