package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldline/commerce/internal/services"
)

var (
	errEmptyBody    = errors.New("request body must not be empty")
	errBodyTooLarge = errors.New("request body too large")
)

const defaultBodyLimit = 64 * 1024

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeBody(r *http.Request, limit int64, dst any) error {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// cartRefFromPath resolves a path segment that may be either an internal id or
// a public token. Tokens carry a type prefix.
func cartRefFromPath(value string) services.CartRef {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "cart_") {
		return services.CartRef{Token: value}
	}
	return services.CartRef{ID: value}
}

func orderRefFromPath(value string) services.OrderRef {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "ord_") {
		return services.OrderRef{Token: value}
	}
	return services.OrderRef{ID: value}
}

func subscriptionRefFromPath(value string) services.SubscriptionRef {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "sub_") {
		return services.SubscriptionRef{Token: value}
	}
	return services.SubscriptionRef{ID: value}
}

type addressPayload struct {
	Name       string   `json:"name,omitempty"`
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city"`
	State      *string  `json:"state,omitempty"`
	PostalCode string   `json:"postal_code"`
	Country    string   `json:"country"`
	Phone      string   `json:"phone,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Name:       addr.Name,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
		Latitude:   addr.Latitude,
		Longitude:  addr.Longitude,
	}
}

type addressRequest struct {
	Name       string   `json:"name"`
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2"`
	City       string   `json:"city"`
	State      *string  `json:"state"`
	PostalCode string   `json:"postal_code"`
	Country    string   `json:"country"`
	Phone      string   `json:"phone"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

func (a *addressRequest) toAddress() *services.Address {
	if a == nil {
		return nil
	}
	return &services.Address{
		Name:       strings.TrimSpace(a.Name),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      a.State,
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
		Phone:      strings.TrimSpace(a.Phone),
		Latitude:   a.Latitude,
		Longitude:  a.Longitude,
	}
}

type lineAmountPayload struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

func buildLineAmounts(lines []services.LineAmount) []lineAmountPayload {
	if len(lines) == 0 {
		return []lineAmountPayload{}
	}
	out := make([]lineAmountPayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, lineAmountPayload{Name: line.Name, Amount: line.Amount})
	}
	return out
}

type lineAmountRequest struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

func toLineAmounts(lines []lineAmountRequest) []services.LineAmount {
	out := make([]services.LineAmount, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.LineAmount{Name: strings.TrimSpace(line.Name), Amount: line.Amount})
	}
	return out
}

type overridePayload struct {
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	AdminID string `json:"admin_id,omitempty"`
}

func buildOverrides(overrides []services.PricingOverride) []overridePayload {
	if len(overrides) == 0 {
		return []overridePayload{}
	}
	out := make([]overridePayload, 0, len(overrides))
	for _, override := range overrides {
		out = append(out, overridePayload{Name: override.Name, Price: override.Price, AdminID: override.AdminID})
	}
	return out
}

type totalsPayload struct {
	Subtotal       int64 `json:"subtotal"`
	ShippingTotal  int64 `json:"shipping_total"`
	TaxTotal       int64 `json:"tax_total"`
	DiscountTotal  int64 `json:"discount_total"`
	OverridesTotal int64 `json:"overrides_total"`
	TotalDue       int64 `json:"total_due"`
	TotalPrice     int64 `json:"total_price"`
}

func buildTotalsPayload(totals services.Totals) totalsPayload {
	return totalsPayload{
		Subtotal:       totals.Subtotal,
		ShippingTotal:  totals.ShippingTotal,
		TaxTotal:       totals.TaxTotal,
		DiscountTotal:  totals.DiscountTotal,
		OverridesTotal: totals.OverridesTotal,
		TotalDue:       totals.TotalDue,
		TotalPrice:     totals.TotalPrice,
	}
}

type itemRequest struct {
	ProductID            string         `json:"product_id"`
	VariantID            string         `json:"variant_id"`
	SKU                  string         `json:"sku"`
	Title                string         `json:"title"`
	Quantity             int            `json:"quantity"`
	UnitPrice            int64          `json:"unit_price"`
	Properties           map[string]any `json:"properties"`
	FulfillmentService   string         `json:"fulfillment_service"`
	RequiresShipping     bool           `json:"requires_shipping"`
	RequiresSubscription bool           `json:"requires_subscription"`
	SubscriptionUnit     string         `json:"subscription_unit"`
	SubscriptionInterval int            `json:"subscription_interval"`
	ExcludePaymentTypes  []string       `json:"exclude_payment_types"`
}

func toItemInputs(items []itemRequest) []services.CartItemInput {
	out := make([]services.CartItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, services.CartItemInput{
			ProductID:            strings.TrimSpace(item.ProductID),
			VariantID:            strings.TrimSpace(item.VariantID),
			SKU:                  strings.TrimSpace(item.SKU),
			Title:                strings.TrimSpace(item.Title),
			Quantity:             item.Quantity,
			UnitPrice:            item.UnitPrice,
			Properties:           item.Properties,
			FulfillmentService:   strings.TrimSpace(item.FulfillmentService),
			RequiresShipping:     item.RequiresShipping,
			RequiresSubscription: item.RequiresSubscription,
			SubscriptionUnit:     services.IntervalUnit(strings.TrimSpace(item.SubscriptionUnit)),
			SubscriptionInterval: item.SubscriptionInterval,
			ExcludePaymentTypes:  item.ExcludePaymentTypes,
		})
	}
	return out
}

type paymentDetailRequest struct {
	Gateway string         `json:"gateway"`
	Amount  int64          `json:"amount"`
	Source  map[string]any `json:"source"`
}

func toPaymentDetails(details []paymentDetailRequest) []services.PaymentDetail {
	if len(details) == 0 {
		return nil
	}
	out := make([]services.PaymentDetail, 0, len(details))
	for _, detail := range details {
		out = append(out, services.PaymentDetail{
			Gateway: strings.TrimSpace(detail.Gateway),
			Amount:  detail.Amount,
			Source:  detail.Source,
		})
	}
	return out
}
