package models

// MovementType is the direction of a stock movement.
type MovementType string

const (
	MovementIn  MovementType = "entrada"
	MovementOut MovementType = "salida"
)

// Product is an inventory item, keyed by its code.
type Product struct {
	ID       string `json:"id"`
	Code     string `json:"codigo"`
	Name     string `json:"nombre"`
	Quantity int    `json:"cantidad"`
	MinStock int    `json:"stockMinimo"`
	Photo    string `json:"foto,omitempty"`
}

// ProductInput is the data needed to register a new product.
type ProductInput struct {
	Code     string
	Name     string
	Quantity int
	MinStock int
	Photo    string
}

// ProductPatch carries the fields of an edit; nil fields are left unchanged.
type ProductPatch struct {
	Name     *string
	Quantity *int
	MinStock *int
	Photo    *string
}

// RemoteFields returns the document written to the products collection.
func (p Product) RemoteFields() map[string]interface{} {
	fields := map[string]interface{}{
		"nombre":      p.Name,
		"codigo":      p.Code,
		"cantidad":    p.Quantity,
		"stockMinimo": p.MinStock,
		"foto":        nil,
	}
	if p.Photo != "" {
		fields["foto"] = p.Photo
	}
	return fields
}

// MovementDetails records the quantity before and after a movement.
type MovementDetails struct {
	Before int `json:"antes"`
	After  int `json:"despues"`
}

// Movement is an entry of the stock history.
type Movement struct {
	ID               string          `json:"id"`
	Type             MovementType    `json:"tipo"`
	ProductID        string          `json:"productoId"`
	ProductName      string          `json:"productoNombre"`
	ProductCode      string          `json:"productoCodigo"`
	Quantity         int             `json:"cantidad"`
	PreviousQuantity int             `json:"cantidadAnterior"`
	NewQuantity      int             `json:"cantidadNueva"`
	Delta            int             `json:"cantidadMovimiento"`
	Date             string          `json:"fecha"`
	Details          MovementDetails `json:"detalles"`
}
