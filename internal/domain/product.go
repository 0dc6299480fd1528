package domain

// Product is an abstract catalog entry. Price, size and stock live on its
// variants.
type Product struct {
	ID          int64
	Name        string
	Description string
	ImageURLs   []string
	Variants    []Variant
}

// Variant is a concrete purchasable SKU of a product.
type Variant struct {
	ID            int64
	ProductID     int64
	Size          string
	Color         string
	Price         float64
	SourceURL     string
	StockQuantity int
}
