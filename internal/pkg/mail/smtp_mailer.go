package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/StyleLoft/StyleLoft/internal/pkg/env"
)

// SendMail sends an email via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", sender, to, subject, body))

	return smtp.SendMail(addr, auth, sender, []string{to}, msg)
}

// SendPaymentFailedMail notifies a member that their renewal charge failed.
func SendPaymentFailedMail(to string, plan string) error {
	subject := "StyleLoft: problem with your subscription payment"
	body := fmt.Sprintf(
		"Hi,\n\nwe could not collect the latest payment for your %s subscription. "+
			"Your access stays open for now; please update your payment method so the next attempt succeeds.\n\n"+
			"Your StyleLoft team", plan)
	return SendMail(to, subject, body)
}
