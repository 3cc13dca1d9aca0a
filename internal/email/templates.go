package email

import (
	"fmt"
	"strings"
)

// OrderItem is one order line rendered into a mail body.
type OrderItem struct {
	ProductID      string
	Name           string
	Quantity       int
	UnitPriceCents int64
}

// BuildOrderConfirmationBody builds the HTML body for the order
// confirmation email.
func BuildOrderConfirmationBody(orderID string, totalCents int64, items []OrderItem) string {
	var itemsHTML strings.Builder
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`,
			name,
			item.Quantity,
			FormatCents(item.UnitPriceCents),
			FormatCents(item.UnitPriceCents*int64(item.Quantity)),
		))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">We have received your order and reserved your items.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<h2 style="font-size: 18px; border-bottom: 2px solid #667eea; padding-bottom: 10px;">Order details</h2>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Item</th>
					<th style="padding: 12px; text-align: center; font-weight: 600;">Qty</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Unit price</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #667eea; margin-left: 10px;">%s</span>
		</div>

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. If you have any questions, please contact support.
		</p>
	</div>
</body>
</html>`, orderID, itemsHTML.String(), FormatCents(totalCents))
}

// BuildOrderCancellationBody builds the HTML body for the cancellation email.
func BuildOrderCancellationBody(orderID, reason string) string {
	reasonHTML := ""
	if reason != "" {
		reasonHTML = fmt.Sprintf(`<p style="color: #666;">Reason: %s</p>`, reason)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 22px;">Your order has been cancelled</h1>
	<p>Order <strong style="font-family: monospace;">%s</strong> was cancelled and any reserved items have been returned to stock.</p>
	%s
	<p>If a payment was completed for this order, the refund will be processed separately.</p>
	<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
	<p style="font-size: 12px; color: #999;">This is an automated message. If you have any questions, please contact support.</p>
</body>
</html>`, orderID, reasonHTML)
}

// BuildShippingNoticeBody builds the HTML body for the shipping notice.
func BuildShippingNoticeBody(orderID, trackingNumber, estimatedDelivery string) string {
	trackingHTML := ""
	if trackingNumber != "" {
		trackingHTML = fmt.Sprintf(`<p>Tracking number: <strong style="font-family: monospace;">%s</strong></p>`, trackingNumber)
	}
	etaHTML := ""
	if estimatedDelivery != "" {
		etaHTML = fmt.Sprintf(`<p>Estimated delivery: <strong>%s</strong></p>`, estimatedDelivery)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 22px;">Your order is on its way</h1>
	<p>Order <strong style="font-family: monospace;">%s</strong> has shipped.</p>
	%s
	%s
	<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
	<p style="font-size: 12px; color: #999;">This is an automated message. If you have any questions, please contact support.</p>
</body>
</html>`, orderID, trackingHTML, etaHTML)
}

// FormatCents renders an amount in cents as "1,234.56".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100
	return fmt.Sprintf("%s%s.%02d", sign, groupThousands(whole), frac)
}

func groupThousands(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		result.WriteString(",")
	}
	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}
	return result.String()
}
