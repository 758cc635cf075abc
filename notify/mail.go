package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"trip_booking/model"
	"trip_booking/utils"
)

//go:embed templates/*.html
var templates embed.FS

var bookingPaidTmpl = template.Must(template.ParseFS(templates, "templates/booking_paid.html"))

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

func NewDialer(host string, port int, username, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, username, password)
}

type Mailer struct {
	sender Sender
	from   string
	log    *logrus.Entry
}

func NewMailer(sender Sender, from string, log *logrus.Entry) *Mailer {
	return &Mailer{sender: sender, from: from, log: log}
}

type ticketLine struct {
	Code  string
	Price int64
}

type bookingPaidData struct {
	Code         string
	CustomerName string
	TotalAmount  int64
	PaidAt       string
	Tickets      []ticketLine
}

// BookingPaid mails the buyer a confirmation with the booking QR code.
// Buyers without an email address are skipped.
func (m *Mailer) BookingPaid(_ context.Context, booking model.Booking) error {
	if booking.Email == "" {
		return nil
	}
	msg, err := m.Message(booking)
	if err != nil {
		return err
	}
	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send confirmation to %s: %w", booking.Email, err)
	}
	m.log.WithField("booking", booking.PublicCode).Info("confirmation mail sent")
	return nil
}

func (m *Mailer) Message(booking model.Booking) (*gomail.Message, error) {
	data := bookingPaidData{
		Code:         booking.PublicCode,
		CustomerName: booking.CustomerName,
		TotalAmount:  booking.TotalAmount,
	}
	if booking.PaidAt != nil {
		data.PaidAt = booking.PaidAt.In(time.FixedZone("ICT", 7*3600)).Format("15:04 - 02/01/2006")
	}
	for _, t := range booking.Tickets {
		data.Tickets = append(data.Tickets, ticketLine{Code: t.TicketCode, Price: t.Price})
	}

	var body bytes.Buffer
	if err := bookingPaidTmpl.Execute(&body, data); err != nil {
		return nil, err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", booking.Email)
	msg.SetHeader("Subject", "Booking confirmed #"+booking.PublicCode)
	msg.SetBody("text/html", body.String())

	qr, err := utils.GenerateQRCode(booking.PublicCode, 400)
	if err != nil {
		return nil, err
	}
	msg.Embed("qr.png", gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(qr)
		return err
	}), gomail.SetHeader(map[string][]string{
		"Content-Type":        {"image/png"},
		"Content-ID":          {"<booking_qr>"},
		"Content-Disposition": {"inline"},
	}))
	return msg, nil
}
