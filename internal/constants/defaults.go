package constants

import "time"

// Server defaults
const (
	DefaultServerPort      = 8083
	DefaultReadTimeoutSec  = 15
	DefaultWriteTimeoutSec = 15
	DefaultIdleTimeoutSec  = 60
)

// Job scheduler
const (
	// JobMaxAttempts is the number of attempts before a job is marked
	// permanently failed.
	JobMaxAttempts = 3
	// JobRetryBaseDelay feeds the exponential backoff: 2^attempts * base.
	JobRetryBaseDelay = 5 * time.Second
	// DefaultJobBatchSize bounds how many due jobs one tick claims.
	DefaultJobBatchSize = 50
	// DefaultStaleJobAge is how long a job may sit in processing before a
	// tick reclaims it as abandoned by a crashed run.
	DefaultStaleJobAge = 10 * time.Minute
)

// Flow execution
const (
	// MaxFlowSteps caps node transitions per execution; exceeding it is a
	// fatal flow error, not a silent stop.
	MaxFlowSteps = 50
	// FlowWebhookTimeout bounds external HTTP nodes.
	FlowWebhookTimeout = 10 * time.Second
)

// Sequences
const (
	DefaultSequenceBatchSize = 50
)

// Broadcasts
const (
	// BroadcastRecipientBatchSize bounds recipient rows per insert.
	BroadcastRecipientBatchSize = 500
	// BroadcastDeliverySpacing is the linear spacing between per-recipient
	// delivery jobs, smoothing provider-side rate limits.
	BroadcastDeliverySpacing  = 100 * time.Millisecond
	DefaultBroadcastBatchSize = 10
)

// Outbound webhooks
const (
	WebhookDispatchTimeout = 10 * time.Second
	// WebhookMaxFailures is the consecutive-failure count at which an
	// endpoint is auto-disabled.
	WebhookMaxFailures     = 10
	WebhookSignatureHeader = "X-Chatflow-Signature"
)

// Database
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DatabaseBusyTimeoutMs        = 5000
)

// Provider client
const (
	DefaultProviderTimeout    = 15 * time.Second
	DefaultProviderRetryCount = 2
)
