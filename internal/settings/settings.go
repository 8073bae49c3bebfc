package settings

import "context"

// Persisted setting keys shared by the scheduling core, the notification
// gateway, and the digest job.
const (
	KeyConsolidateNotifications = "consolidateNotifications"
	KeyReminderInterval         = "reminderInterval"
	KeyDaysUntilReminder        = "daysUntilReminder"
	KeyEmailDeliveryOption      = "emailDeliveryOption"
	KeyLogEmailRecipients       = "logEmailRecipients"
)

// Values for KeyEmailDeliveryOption.
const (
	DeliverySend = "send"
	DeliveryLog  = "log"
	DeliveryNone = "none"
)

// Store is a typed key-value settings store. Missing keys read as zero
// values, not errors.
type Store interface {
	Bool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	Int(ctx context.Context, key string) (int, error)
	SetInt(ctx context.Context, key string, value int) error
	String(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
}
