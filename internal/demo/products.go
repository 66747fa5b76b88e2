// Package demo provides the sample product catalogue served when no database
// is configured.
package demo

import (
	"fmt"
	"math"

	"github.com/noah-isme/gridkit/internal/models"
)

// GridName is the name the demo catalogue is registered under.
const GridName = "products"

var (
	productNames = []string{
		"Café Especial", "Chá Verde", "Pão de Queijo", "Açaí Bowl", "Guaraná",
		"Mate Gelado", "Brigadeiro", "Coxinha", "Pastel de Nata", "Tapioca",
	}
	categories = []string{"Bebidas", "Padaria", "Doces", "Salgados"}
	cities     = []string{"São Paulo", "Brasília", "Belém", "Florianópolis", "Curitiba", "Goiânia"}
)

// Columns are the demo grid columns in display order.
func Columns() []models.Column {
	return []models.Column{
		{Field: "id", Title: "ID"},
		{Field: "name", Title: "Name"},
		{Field: "category", Title: "Category"},
		{Field: "price", Title: "Price"},
		{Field: "active", Title: "Active"},
		{Field: "city", Title: "City"},
	}
}

// SearchableFields are searched when a query names none.
func SearchableFields() []string {
	return []string{"name", "category", "city"}
}

// DefaultSort orders the catalogue by id.
func DefaultSort() []models.SortSpec {
	return []models.SortSpec{{Field: "id", Ascending: true}}
}

// Products generates n deterministic rows. Names carry a numeric suffix so
// every row is distinct.
func Products(n int) []models.Row {
	if n < 0 {
		n = 0
	}
	rows := make([]models.Row, n)
	for i := range rows {
		rows[i] = models.Row{
			"id":       i + 1,
			"name":     fmt.Sprintf("%s %03d", productNames[i%len(productNames)], i+1),
			"category": categories[i%len(categories)],
			"price":    math.Round((4.5+float64((i*37)%200)/4)*100) / 100,
			"active":   i%3 != 0,
			"city":     cities[(i/2)%len(cities)],
		}
	}
	return rows
}
