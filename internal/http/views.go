package httpx

import (
	"time"

	"github.com/maelisc/boutique/internal/domain"
)

// Public views hide the supplier link and stock levels; admin views show
// everything including the order owner.

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

type variantView struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Size      string  `json:"size"`
	Color     string  `json:"color"`
	Price     float64 `json:"price"`
}

type variantAdminView struct {
	variantView
	SourceURL     string `json:"source_url"`
	StockQuantity int    `json:"stock_quantity"`
}

type productView struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	ImageURLs   []string      `json:"image_urls"`
	Variants    []variantView `json:"variants"`
}

type orderItemView struct {
	ID        int64        `json:"id"`
	VariantID int64        `json:"variant_id"`
	Quantity  int          `json:"quantity"`
	Variant   *variantView `json:"variant,omitempty"`
}

type orderView struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []orderItemView `json:"items"`
}

type orderItemAdminView struct {
	ID        int64             `json:"id"`
	VariantID int64             `json:"variant_id"`
	Quantity  int               `json:"quantity"`
	Variant   *variantAdminView `json:"variant,omitempty"`
}

type orderAdminView struct {
	ID        int64                `json:"id"`
	UserID    int64                `json:"user_id"`
	Status    string               `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
	Items     []orderItemAdminView `json:"items"`
	User      *userView            `json:"user,omitempty"`
}

func toUserView(u *domain.User) userView {
	return userView{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

func toVariantView(v domain.Variant) variantView {
	return variantView{ID: v.ID, ProductID: v.ProductID, Size: v.Size, Color: v.Color, Price: v.Price}
}

func toVariantAdminView(v domain.Variant) variantAdminView {
	return variantAdminView{
		variantView:   toVariantView(v),
		SourceURL:     v.SourceURL,
		StockQuantity: v.StockQuantity,
	}
}

func toProductView(p domain.Product) productView {
	variants := make([]variantView, 0, len(p.Variants))
	for _, v := range p.Variants {
		variants = append(variants, toVariantView(v))
	}
	return productView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ImageURLs:   p.ImageURLs,
		Variants:    variants,
	}
}

func toOrderView(o domain.Order) orderView {
	items := make([]orderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		view := orderItemView{ID: it.ID, VariantID: it.VariantID, Quantity: it.Quantity}
		if it.Variant != nil {
			v := toVariantView(*it.Variant)
			view.Variant = &v
		}
		items = append(items, view)
	}
	return orderView{ID: o.ID, UserID: o.UserID, Status: o.Status, CreatedAt: o.CreatedAt, Items: items}
}

func toOrderAdminView(o domain.Order) orderAdminView {
	items := make([]orderItemAdminView, 0, len(o.Items))
	for _, it := range o.Items {
		view := orderItemAdminView{ID: it.ID, VariantID: it.VariantID, Quantity: it.Quantity}
		if it.Variant != nil {
			v := toVariantAdminView(*it.Variant)
			view.Variant = &v
		}
		items = append(items, view)
	}
	view := orderAdminView{ID: o.ID, UserID: o.UserID, Status: o.Status, CreatedAt: o.CreatedAt, Items: items}
	if o.User != nil {
		u := toUserView(o.User)
		view.User = &u
	}
	return view
}
