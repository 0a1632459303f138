package model

// Notifier delivers a rendered alert summary to an operator.
type Notifier interface {
	Send(subject, body string) error
}
