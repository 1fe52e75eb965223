package domain

import (
	"fmt"
	"math"
	"time"
)

// MaxLineQuantity — предел количества в одной строке корзины.
const MaxLineQuantity = math.MaxInt32

// CartLine — одна строка корзины.
type CartLine struct {
	ProductID string
	Quantity  int32
}

// Cart — изменяемая корзина principal'а. У одного владельца не больше одной корзины,
// и в ней нет двух строк с одинаковым ProductID.
type Cart struct {
	OwnerID   string
	Lines     []CartLine
	UpdatedAt time.Time
}

// EmptyCart возвращает пустую корзину владельца.
func EmptyCart(ownerID string) Cart {
	return Cart{OwnerID: ownerID, Lines: []CartLine{}}
}

// IsEmpty сообщает, что в корзине нет строк.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Add прибавляет количество к существующей строке или добавляет новую.
// Если сумма превысит MaxLineQuantity, корзина не меняется и возвращается ErrInvalidInput.
func (c *Cart) Add(productID string, quantity int32) error {
	for i := range c.Lines {
		if c.Lines[i].ProductID != productID {
			continue
		}
		if int64(c.Lines[i].Quantity)+int64(quantity) > MaxLineQuantity {
			return fmt.Errorf("%w: quantity of %s would exceed %d", ErrInvalidInput, productID, MaxLineQuantity)
		}
		c.Lines[i].Quantity += quantity
		return nil
	}
	c.Lines = append(c.Lines, CartLine{ProductID: productID, Quantity: quantity})
	return nil
}

// Take вычитает lines из корзины. Строка, дошедшая до нуля, удаляется;
// добавленное сверх lines остаётся в корзине.
func (c *Cart) Take(lines []CartLine) {
	taken := make(map[string]int32, len(lines))
	for _, l := range lines {
		taken[l.ProductID] += l.Quantity
	}
	kept := make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		l.Quantity -= taken[l.ProductID]
		if l.Quantity > 0 {
			kept = append(kept, l)
		}
	}
	c.Lines = kept
}

// Clone возвращает копию корзины.
func (c Cart) Clone() Cart {
	dst := c
	dst.Lines = append([]CartLine{}, c.Lines...)
	return dst
}

// Product — товар в том виде, в котором его отдаёт каталог.
type Product struct {
	ID         string
	Name       string
	Image      string
	PriceMinor int64
}

// CartLines возвращает позиции заказа в виде строк корзины, из которой он оформлен.
func (o Order) CartLines() []CartLine {
	lines := make([]CartLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
