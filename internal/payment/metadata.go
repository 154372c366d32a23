package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Metadata field suffixes. Keys take the form item_{index}_{field}.
const (
	fieldProductID = "productId"
	fieldVariantID = "variantId"
	fieldName      = "name"
	fieldQuantity  = "quantity"

	metadataItemPrefix = "item_"
	fieldsPerItem      = 4
)

// LineItem is the part of a cart line that survives the round trip through processor metadata.
type LineItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

func metadataKey(index int, field string) string {
	return metadataItemPrefix + strconv.Itoa(index) + "_" + field
}

// EncodeMetadata flattens the cart into processor metadata: four entries per line, indexed by position.
func EncodeMetadata(cart pricing.Cart) map[string]string {
	meta := make(map[string]string, len(cart)*fieldsPerItem)
	for i, it := range cart {
		meta[metadataKey(i, fieldProductID)] = it.ProductID
		meta[metadataKey(i, fieldVariantID)] = it.VariantID
		meta[metadataKey(i, fieldName)] = it.Name
		meta[metadataKey(i, fieldQuantity)] = strconv.Itoa(it.Quantity)
	}
	return meta
}

// DecodeMetadata rebuilds line items from metadata written by EncodeMetadata, in original order.
// Keys outside the four item fields are ignored.
func DecodeMetadata(meta map[string]string) ([]LineItem, error) {
	count := 0
	for key := range meta {
		n, ok := itemIndex(key)
		if !ok {
			continue
		}
		if n >= len(meta) {
			return nil, fmt.Errorf("metadata: item index %d out of range", n)
		}
		if n+1 > count {
			count = n + 1
		}
	}
	items := make([]LineItem, 0, count)
	for i := 0; i < count; i++ {
		name, ok := meta[metadataKey(i, fieldName)]
		if !ok {
			return nil, fmt.Errorf("metadata: item %d: missing %s", i, fieldName)
		}
		rawQty, ok := meta[metadataKey(i, fieldQuantity)]
		if !ok {
			return nil, fmt.Errorf("metadata: item %d: missing %s", i, fieldQuantity)
		}
		qty, err := strconv.Atoi(rawQty)
		if err != nil {
			return nil, fmt.Errorf("metadata: item %d: quantity: %w", i, err)
		}
		items = append(items, LineItem{
			ProductID: meta[metadataKey(i, fieldProductID)],
			VariantID: meta[metadataKey(i, fieldVariantID)],
			Name:      name,
			Quantity:  qty,
		})
	}
	return items, nil
}

// itemIndex returns the line index of an item_{index}_{field} key owned by EncodeMetadata.
func itemIndex(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, metadataItemPrefix)
	if !ok {
		return 0, false
	}
	idx, field, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, false
	}
	switch field {
	case fieldProductID, fieldVariantID, fieldName, fieldQuantity:
	default:
		return 0, false
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
