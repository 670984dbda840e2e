package market

import "time"

// OrderData renders an order for a Result payload.
func OrderData(o Order) map[string]any {
	return map[string]any{
		"orderId":         o.ID,
		"buyerId":         o.BuyerID,
		"sellerId":        o.SellerID,
		"productId":       o.ProductID,
		"priceAtPurchase": o.PriceAtPurchase.StringFixed(2),
		"title":           o.Title,
		"description":     o.Description,
		"imageUrls":       append([]string(nil), o.ImageURLs...),
		"status":          string(o.Status),
		"note":            o.Note,
		"createTime":      o.CreatedAt.UTC().Format(time.RFC3339),
		"updateTime":      o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// PaymentData renders a payment for a Result payload.
func PaymentData(p Payment) map[string]any {
	return map[string]any{
		"paymentId":     p.ID,
		"userId":        p.UserID,
		"orderIds":      append([]string(nil), p.OrderIDs...),
		"paymentAmount": p.Amount.StringFixed(2),
		"paymentMethod": string(p.Method),
		"status":        string(p.Status),
		"expireTime":    p.ExpireTime.UTC().Format(time.RFC3339),
	}
}

// RefundData renders a refund for a Result payload.
func RefundData(r RefundTransaction) map[string]any {
	return map[string]any{
		"refundId":     r.ID,
		"orderId":      r.OrderID,
		"buyerId":      r.BuyerID,
		"sellerId":     r.SellerID,
		"refundAmount": r.Amount.StringFixed(2),
		"reason":       r.Reason,
		"status":       string(r.Status),
		"createTime":   r.CreatedAt.UTC().Format(time.RFC3339),
	}
}
