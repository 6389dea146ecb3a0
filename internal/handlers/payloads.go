package handlers

import (
	"github.com/fieldline/commerce/internal/services"
)

type cartItemPayload struct {
	ID                   string         `json:"id"`
	ProductID            string         `json:"product_id"`
	VariantID            string         `json:"variant_id,omitempty"`
	SKU                  string         `json:"sku"`
	Title                string         `json:"title,omitempty"`
	Quantity             int            `json:"quantity"`
	UnitPrice            int64          `json:"unit_price"`
	Currency             string         `json:"currency,omitempty"`
	Properties           map[string]any `json:"properties,omitempty"`
	FulfillmentService   string         `json:"fulfillment_service"`
	RequiresShipping     bool           `json:"requires_shipping"`
	RequiresSubscription bool           `json:"requires_subscription,omitempty"`
	SubscriptionUnit     string         `json:"subscription_unit,omitempty"`
	SubscriptionInterval int            `json:"subscription_interval,omitempty"`
	AddedAt              string         `json:"added_at,omitempty"`
	UpdatedAt            string         `json:"updated_at,omitempty"`
}

type cartPayload struct {
	ID              string              `json:"id"`
	Token           string              `json:"token"`
	Status          string              `json:"status"`
	CustomerID      string              `json:"customer_id,omitempty"`
	Email           string              `json:"email,omitempty"`
	Currency        string              `json:"currency"`
	Items           []cartItemPayload   `json:"items"`
	ShippingAddress *addressPayload     `json:"shipping_address,omitempty"`
	BillingAddress  *addressPayload     `json:"billing_address,omitempty"`
	ShippingLines   []lineAmountPayload `json:"shipping_lines"`
	TaxLines        []lineAmountPayload `json:"tax_lines"`
	Overrides       []overridePayload   `json:"overrides"`
	Totals          totalsPayload       `json:"totals"`
	OrderedOrderID  string              `json:"ordered_order_id,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemPayload{
			ID:                   item.ID,
			ProductID:            item.ProductID,
			VariantID:            item.VariantID,
			SKU:                  item.SKU,
			Title:                item.Title,
			Quantity:             item.Quantity,
			UnitPrice:            item.UnitPrice,
			Currency:             item.Currency,
			Properties:           cloneMap(item.Properties),
			FulfillmentService:   item.FulfillmentService,
			RequiresShipping:     item.RequiresShipping,
			RequiresSubscription: item.RequiresSubscription,
			SubscriptionUnit:     string(item.SubscriptionUnit),
			SubscriptionInterval: item.SubscriptionInterval,
			AddedAt:              formatTime(item.AddedAt),
			UpdatedAt:            formatTimePointer(item.UpdatedAt),
		})
	}
	payload := cartPayload{
		ID:             cart.ID,
		Token:          cart.Token,
		Status:         string(cart.Status),
		CustomerID:     cart.CustomerID,
		Email:          cart.Email,
		Currency:       cart.Currency,
		Items:          items,
		ShippingLines:  buildLineAmounts(cart.ShippingLines),
		TaxLines:       buildLineAmounts(cart.TaxLines),
		Overrides:      buildOverrides(cart.Overrides),
		Totals:         buildTotalsPayload(cart.Totals),
		OrderedOrderID: cart.OrderedOrderID,
		Notes:          cart.Notes,
		Version:        cart.Version,
		CreatedAt:      formatTime(cart.CreatedAt),
		UpdatedAt:      formatTime(cart.UpdatedAt),
	}
	if cart.ShippingAddress != nil {
		addr := buildAddressPayload(*cart.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if cart.BillingAddress != nil {
		addr := buildAddressPayload(*cart.BillingAddress)
		payload.BillingAddress = &addr
	}
	return payload
}

type orderItemPayload struct {
	ID                   string         `json:"id"`
	OrderID              string         `json:"order_id"`
	ProductID            string         `json:"product_id"`
	VariantID            string         `json:"variant_id,omitempty"`
	SKU                  string         `json:"sku"`
	Title                string         `json:"title,omitempty"`
	Quantity             int            `json:"quantity"`
	UnitPrice            int64          `json:"unit_price"`
	TotalPrice           int64          `json:"total_price"`
	Currency             string         `json:"currency,omitempty"`
	Properties           map[string]any `json:"properties,omitempty"`
	FulfillmentService   string         `json:"fulfillment_service"`
	FulfillmentID        string         `json:"fulfillment_id,omitempty"`
	FulfillmentStatus    string         `json:"fulfillment_status"`
	RequiresShipping     bool           `json:"requires_shipping"`
	RequiresSubscription bool           `json:"requires_subscription,omitempty"`
	SubscriptionUnit     string         `json:"subscription_unit,omitempty"`
	SubscriptionInterval int            `json:"subscription_interval,omitempty"`
	CreatedAt            string         `json:"created_at"`
	UpdatedAt            string         `json:"updated_at"`
}

func buildOrderItemPayload(item services.OrderItem) orderItemPayload {
	return orderItemPayload{
		ID:                   item.ID,
		OrderID:              item.OrderID,
		ProductID:            item.ProductID,
		VariantID:            item.VariantID,
		SKU:                  item.SKU,
		Title:                item.Title,
		Quantity:             item.Quantity,
		UnitPrice:            item.UnitPrice,
		TotalPrice:           item.TotalPrice,
		Currency:             item.Currency,
		Properties:           cloneMap(item.Properties),
		FulfillmentService:   item.FulfillmentService,
		FulfillmentID:        item.FulfillmentID,
		FulfillmentStatus:    string(item.FulfillmentStatus),
		RequiresShipping:     item.RequiresShipping,
		RequiresSubscription: item.RequiresSubscription,
		SubscriptionUnit:     string(item.SubscriptionUnit),
		SubscriptionInterval: item.SubscriptionInterval,
		CreatedAt:            formatTime(item.CreatedAt),
		UpdatedAt:            formatTime(item.UpdatedAt),
	}
}

type transactionPayload struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Gateway     string `json:"gateway"`
	Reference   string `json:"reference,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func buildTransactionPayload(txn services.Transaction) transactionPayload {
	return transactionPayload{
		ID:          txn.ID,
		OrderID:     txn.OrderID,
		Kind:        string(txn.Kind),
		Status:      string(txn.Status),
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Gateway:     txn.Gateway,
		Reference:   txn.Reference,
		ErrorCode:   txn.ErrorCode,
		Description: txn.Description,
		CreatedAt:   formatTime(txn.CreatedAt),
		UpdatedAt:   formatTime(txn.UpdatedAt),
	}
}

type fulfillmentPayload struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	Service        string `json:"service"`
	Status         string `json:"status"`
	TotalItems     int    `json:"total_items"`
	TotalPending   int    `json:"total_pending"`
	TotalSent      int    `json:"total_sent"`
	TotalCancelled int    `json:"total_cancelled"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func buildFulfillmentPayload(f services.Fulfillment) fulfillmentPayload {
	return fulfillmentPayload{
		ID:             f.ID,
		OrderID:        f.OrderID,
		Service:        f.Service,
		Status:         string(f.Status),
		TotalItems:     f.TotalItems,
		TotalPending:   f.TotalPending,
		TotalSent:      f.TotalSent,
		TotalCancelled: f.TotalCancelled,
		TrackingNumber: f.TrackingNumber,
		CreatedAt:      formatTime(f.CreatedAt),
		UpdatedAt:      formatTime(f.UpdatedAt),
	}
}

type refundPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Restock       bool   `json:"restock"`
	CreatedAt     string `json:"created_at"`
}

func buildRefundPayload(refund services.Refund) refundPayload {
	return refundPayload{
		ID:            refund.ID,
		OrderID:       refund.OrderID,
		TransactionID: refund.TransactionID,
		Amount:        refund.Amount,
		Restock:       refund.Restock,
		CreatedAt:     formatTime(refund.CreatedAt),
	}
}

type orderPayload struct {
	ID                string               `json:"id"`
	Number            string               `json:"number"`
	Token             string               `json:"token"`
	Status            string               `json:"status"`
	FinancialStatus   string               `json:"financial_status"`
	FulfillmentStatus string               `json:"fulfillment_status"`
	CustomerID        string               `json:"customer_id,omitempty"`
	Email             string               `json:"email,omitempty"`
	CartToken         string               `json:"cart_token,omitempty"`
	SubscriptionToken string               `json:"subscription_token,omitempty"`
	Currency          string               `json:"currency"`
	ShippingAddress   *addressPayload      `json:"shipping_address,omitempty"`
	BillingAddress    *addressPayload      `json:"billing_address,omitempty"`
	Items             []orderItemPayload   `json:"items"`
	Transactions      []transactionPayload `json:"transactions"`
	Fulfillments      []fulfillmentPayload `json:"fulfillments"`
	Refunds           []refundPayload      `json:"refunds"`
	ShippingLines     []lineAmountPayload  `json:"shipping_lines"`
	TaxLines          []lineAmountPayload  `json:"tax_lines"`
	Overrides         []overridePayload    `json:"overrides"`
	Totals            totalsPayload        `json:"totals"`
	ProcessingMethod  string               `json:"processing_method,omitempty"`
	Cancelled         bool                 `json:"cancelled"`
	CancelReason      string               `json:"cancel_reason,omitempty"`
	CancelledAt       string               `json:"cancelled_at,omitempty"`
	Version           int64                `json:"version"`
	CreatedAt         string               `json:"created_at"`
	UpdatedAt         string               `json:"updated_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, buildOrderItemPayload(item))
	}
	transactions := make([]transactionPayload, 0, len(order.Transactions))
	for _, txn := range order.Transactions {
		transactions = append(transactions, buildTransactionPayload(txn))
	}
	fulfillments := make([]fulfillmentPayload, 0, len(order.Fulfillments))
	for _, f := range order.Fulfillments {
		fulfillments = append(fulfillments, buildFulfillmentPayload(f))
	}
	refunds := make([]refundPayload, 0, len(order.Refunds))
	for _, refund := range order.Refunds {
		refunds = append(refunds, buildRefundPayload(refund))
	}
	payload := orderPayload{
		ID:                order.ID,
		Number:            order.Number,
		Token:             order.Token,
		Status:            string(order.Status),
		FinancialStatus:   string(order.FinancialStatus),
		FulfillmentStatus: string(order.FulfillmentStatus),
		CustomerID:        order.CustomerID,
		Email:             order.Email,
		CartToken:         order.CartToken,
		SubscriptionToken: order.SubscriptionToken,
		Currency:          order.Currency,
		Items:             items,
		Transactions:      transactions,
		Fulfillments:      fulfillments,
		Refunds:           refunds,
		ShippingLines:     buildLineAmounts(order.ShippingLines),
		TaxLines:          buildLineAmounts(order.TaxLines),
		Overrides:         buildOverrides(order.Overrides),
		Totals:            buildTotalsPayload(order.Totals),
		ProcessingMethod:  string(order.ProcessingMethod),
		Cancelled:         order.Cancelled,
		CancelledAt:       formatTimePointer(order.CancelledAt),
		Version:           order.Version,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
	if order.CancelReason != nil {
		payload.CancelReason = string(*order.CancelReason)
	}
	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.BillingAddress != nil {
		addr := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &addr
	}
	return payload
}

type subscriptionItemPayload struct {
	ProductID            string `json:"product_id"`
	SKU                  string `json:"sku"`
	Title                string `json:"title,omitempty"`
	Quantity             int    `json:"quantity"`
	UnitPrice            int64  `json:"unit_price"`
	SubscriptionUnit     string `json:"subscription_unit,omitempty"`
	SubscriptionInterval int    `json:"subscription_interval,omitempty"`
}

type subscriptionPayload struct {
	ID                   string                    `json:"id"`
	Token                string                    `json:"token"`
	CustomerID           string                    `json:"customer_id,omitempty"`
	Email                string                    `json:"email,omitempty"`
	Currency             string                    `json:"currency"`
	OriginalOrderID      string                    `json:"original_order_id"`
	LastOrderID          string                    `json:"last_order_id,omitempty"`
	Items                []subscriptionItemPayload `json:"items"`
	Unit                 string                    `json:"unit"`
	Interval             int                       `json:"interval"`
	RenewsOn             string                    `json:"renews_on"`
	RenewRetryAt         string                    `json:"renew_retry_at,omitempty"`
	TotalRenewalAttempts int                       `json:"total_renewal_attempts"`
	NoticeSent           bool                      `json:"notice_sent"`
	Active               bool                      `json:"active"`
	Cancelled            bool                      `json:"cancelled"`
	CancelReason         string                    `json:"cancel_reason,omitempty"`
	CancelledAt          string                    `json:"cancelled_at,omitempty"`
	TotalPrice           int64                     `json:"total_price"`
	Version              int64                     `json:"version"`
	CreatedAt            string                    `json:"created_at"`
	UpdatedAt            string                    `json:"updated_at"`
}

func buildSubscriptionPayload(sub services.Subscription) subscriptionPayload {
	items := make([]subscriptionItemPayload, 0, len(sub.Items))
	for _, item := range sub.Items {
		items = append(items, subscriptionItemPayload{
			ProductID:            item.ProductID,
			SKU:                  item.SKU,
			Title:                item.Title,
			Quantity:             item.Quantity,
			UnitPrice:            item.UnitPrice,
			SubscriptionUnit:     string(item.SubscriptionUnit),
			SubscriptionInterval: item.SubscriptionInterval,
		})
	}
	payload := subscriptionPayload{
		ID:                   sub.ID,
		Token:                sub.Token,
		CustomerID:           sub.CustomerID,
		Email:                sub.Email,
		Currency:             sub.Currency,
		OriginalOrderID:      sub.OriginalOrderID,
		LastOrderID:          sub.LastOrderID,
		Items:                items,
		Unit:                 string(sub.Unit),
		Interval:             sub.Interval,
		RenewsOn:             formatTime(sub.RenewsOn),
		RenewRetryAt:         formatTimePointer(sub.RenewRetryAt),
		TotalRenewalAttempts: sub.TotalRenewalAttempts,
		NoticeSent:           sub.NoticeSent,
		Active:               sub.Active,
		Cancelled:            sub.Cancelled,
		CancelledAt:          formatTimePointer(sub.CancelledAt),
		TotalPrice:           sub.TotalPrice,
		Version:              sub.Version,
		CreatedAt:            formatTime(sub.CreatedAt),
		UpdatedAt:            formatTime(sub.UpdatedAt),
	}
	if sub.CancelReason != nil {
		payload.CancelReason = string(*sub.CancelReason)
	}
	return payload
}

type batchSummaryPayload struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

func buildBatchSummaryPayload(summary services.BatchSummary) batchSummaryPayload {
	errs := summary.Errors
	if errs == nil {
		errs = []string{}
	}
	return batchSummaryPayload{Processed: summary.Processed, Errors: errs}
}
