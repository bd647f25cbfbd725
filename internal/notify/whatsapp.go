package notify

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

var eventTitles = map[string]string{
	orders.EventOrderPlaced:        "Nuevo pedido",
	orders.EventOrderPaid:          "Pago confirmado",
	orders.EventOrderCancelled:     "Pedido cancelado",
	orders.EventOrderStatusChanged: "Pedido actualizado",
}

var statusLabels = map[orders.Status]string{
	orders.StatusPendingConfirmation: "Pendiente de Confirmación",
	orders.StatusPendingPayment:      "Pendiente de Pago",
	orders.StatusPaid:                "Pagada",
	orders.StatusProcessing:          "Procesando",
	orders.StatusShipped:             "Enviado",
	orders.StatusDelivered:           "Entregado",
	orders.StatusCancelled:           "Cancelada",
}

func StatusLabel(s orders.Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// RenderMessage builds the plain-text WhatsApp body for a lifecycle event.
// The status shown is the reconciled one, never the raw order_status.
func RenderMessage(eventType string, p orders.OrderEventPayload) string {
	title, ok := eventTitles[eventType]
	if !ok {
		title = eventType
	}
	display := orders.EffectiveStatus(orders.Order{OrderStatus: p.OrderStatus, PaymentStatus: p.PaymentStatus})

	var b strings.Builder
	fmt.Fprintf(&b, "*%s* #%s\n", title, shortID(p.OrderID))
	if p.Customer.Name != "" {
		fmt.Fprintf(&b, "Cliente: %s\n", p.Customer.Name)
	}
	if p.Customer.Phone != "" {
		fmt.Fprintf(&b, "Teléfono: %s\n", p.Customer.Phone)
	}
	for _, it := range p.Items {
		fmt.Fprintf(&b, "- %d x %s%s @ %s\n", it.Qty, it.ProductID, variantSuffix(it.Variant), it.Price)
	}
	fmt.Fprintf(&b, "Total: %s\n", p.Amount)
	fmt.Fprintf(&b, "Estado: %s", StatusLabel(display))
	if p.Customer.Address != "" {
		fmt.Fprintf(&b, "\nDirección: %s", p.Customer.Address)
		if p.Customer.City != "" {
			fmt.Fprintf(&b, ", %s", p.Customer.City)
		}
	}
	return b.String()
}

func variantSuffix(k orders.VariantKey) string {
	var parts []string
	for _, s := range []*string{k.Color, k.Size, k.Material} {
		if s != nil {
			parts = append(parts, *s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Link returns the wa.me deep link that opens a chat with phone prefilled with text.
// Non-digits are stripped from phone; an empty phone yields the share-anyone form.
func Link(phone, text string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	// wa.me tidak menerima '+' sebagai spasi
	q := strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	return "https://wa.me/" + digits + "?text=" + q
}
