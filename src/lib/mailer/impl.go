package mailer

import (
	"etix/src/lib"
	"fmt"
	"log"
	"os"
	"path"

	"github.com/yeqown/go-qrcode"
)

// SendTicketEmail delivers a purchased ticket to its owner. The ticket
// number is rendered as a QR image and attached so door staff can scan it.
func SendTicketEmail(to string, eventName string, ticketNumber string) error {
	tempdir := os.Getenv("TEMP_DIR")
	filepath := path.Join(tempdir, fmt.Sprintf("%s.jpeg", ticketNumber))
	qrc, err := qrcode.New(ticketNumber)
	if err != nil {
		return err
	}
	if err := qrc.Save(filepath); err != nil {
		log.Printf("Could not save qrcode to file [%s]: %s\n", filepath, err.Error())
		return err
	}
	body := fmt.Sprintf(
		"<p>Your ticket for <strong>%s</strong> is attached.</p><p>Ticket number: <code>%s</code></p>",
		eventName, ticketNumber,
	)
	return lib.SendMail(&lib.SendMailInput{
		From:        os.Getenv("MAIL_FROM"),
		FromName:    "etix",
		To:          []string{to},
		Subject:     fmt.Sprintf("Your ticket for %s", eventName),
		Body:        body,
		Html:        true,
		Attachments: []string{filepath},
	})
}
