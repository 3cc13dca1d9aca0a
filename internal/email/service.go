package email

import (
	"fmt"
	"net/smtp"
)

// Service sends transactional mail over plain SMTP.
type Service struct {
	host string
	port string
	from string
}

func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
	}
}

// SendOrderConfirmation sends the order confirmation for a newly placed order.
func (s *Service) SendOrderConfirmation(to, orderID string, totalCents int64, items []OrderItem) error {
	subject := fmt.Sprintf("Order confirmation (order %s)", shortOrderID(orderID))
	body := BuildOrderConfirmationBody(orderID, totalCents, items)
	return s.send(to, subject, body)
}

// SendOrderCancellation confirms a cancellation and the released reservation.
func (s *Service) SendOrderCancellation(to, orderID, reason string) error {
	subject := fmt.Sprintf("Order cancelled (order %s)", shortOrderID(orderID))
	body := BuildOrderCancellationBody(orderID, reason)
	return s.send(to, subject, body)
}

// SendShippingNotice tells the customer the order is on its way.
func (s *Service) SendShippingNotice(to, orderID, trackingNumber, estimatedDelivery string) error {
	subject := fmt.Sprintf("Your order has shipped (order %s)", shortOrderID(orderID))
	body := BuildShippingNoticeBody(orderID, trackingNumber, estimatedDelivery)
	return s.send(to, subject, body)
}

func shortOrderID(orderID string) string {
	if len(orderID) > 8 {
		return orderID[:8]
	}
	return orderID
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
