package notifier

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/seatwatch/internal/mail"
	"github.com/lalithlochan/seatwatch/internal/seat"
)

// DedupeKey identifies one (section, target status, recipient) notification
// within a UTC calendar minute.
func DedupeKey(term, classNbr string, to seat.Status, email string, at time.Time) string {
	minute := at.UTC().Format("2006-01-02T15:04")
	raw := strings.Join([]string{term, classNbr, string(to), strings.ToLower(strings.TrimSpace(email)), minute}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// UnsubscribeURL appends the token link to apiBase, which is expected to end
// with a slash.
func UnsubscribeURL(apiBase string, token uuid.UUID) string {
	return apiBase + "unsubscribe?token=" + url.QueryEscape(token.String())
}

type email struct {
	title    string
	termDesc string
	status   seat.Status
	to       string
	unsubURL string
}

func (n *Notifier) compose(e email) mail.Message {
	titleWithTerm := fmt.Sprintf("%s (%s)", e.title, e.termDesc)

	body := strings.Join([]string{
		fmt.Sprintf("Update for %s:", titleWithTerm),
		"",
		fmt.Sprintf("Status changed to %s.", e.status),
		"",
		fmt.Sprintf("Unsubscribe: %s", e.unsubURL),
	}, "\n")

	return mail.Message{
		From:             n.config.From,
		To:               e.to,
		Subject:          fmt.Sprintf("Seat update: %s is now %s", titleWithTerm, e.status),
		Body:             body,
		ConfigurationSet: n.config.ConfigurationSet,
	}
}
