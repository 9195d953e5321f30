// Package notify sends transactional mail. Delivery is fire-and-forget: a
// failed send is logged and never rolls back the state change that caused it.
package notify

type Mailer interface {
	Send(to, subject, body string) error
}
