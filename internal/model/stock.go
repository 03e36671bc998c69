package model

// Stock is the inventory ledger row of one product variant (color and size).
// Quantity is not floored at zero: concurrent purchases may drive it negative.
type Stock struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID uint64 `gorm:"not null;index" json:"product_id"`
	ColorID   uint64 `gorm:"not null" json:"color_id"`
	Size      string `gorm:"type:varchar(16);not null" json:"size"`
	Quantity  int    `gorm:"not null;default:0" json:"quantity"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

// TableName set name
func (Stock) TableName() string {
	return "stocks"
}

// Title returns the parent product title, empty when the product was not loaded.
func (s *Stock) Title() string {
	if s.Product == nil {
		return ""
	}
	return s.Product.Title
}

// Product is owned by the catalog; the purchase flow only reads it.
type Product struct {
	ID     uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Title  string         `gorm:"type:varchar(200);not null" json:"title"`
	Images []ProductImage `gorm:"foreignKey:ProductID" json:"images,omitempty"`
}

// TableName set name
func (Product) TableName() string {
	return "products"
}

// ProductImage is a catalog image of a product.
type ProductImage struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID uint64 `gorm:"not null;index" json:"product_id"`
	URL       string `gorm:"type:varchar(255);not null" json:"url"`
	Position  int    `gorm:"not null;default:0" json:"position"`
}

// TableName set name
func (ProductImage) TableName() string {
	return "product_images"
}
