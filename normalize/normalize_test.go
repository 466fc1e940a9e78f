package normalize

import (
	"math"
	"testing"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"269 LEKE", 269},
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"2,99", 2.99},
		{"€ 3.49", 3.49},
		{"145 ден", 145},
		{"1.299", 1299},
		{"  549,00 RSD ", 549},
		{"12", 12},
	}

	for _, c := range cases {
		got := ParsePrice(c.in)
		if got == nil {
			t.Fatalf("ParsePrice(%q) = nil, want %v", c.in, c.want)
		}
		if math.Abs(*got-c.want) > 1e-9 {
			t.Fatalf("ParsePrice(%q) = %v, want %v", c.in, *got, c.want)
		}
	}
}

func TestParsePrice_Unparsable(t *testing.T) {
	for _, in := range []string{"not a price", "", "gratis", "N/A"} {
		if got := ParsePrice(in); got != nil {
			t.Fatalf("ParsePrice(%q) = %v, want nil", in, *got)
		}
	}
}

func TestExtractQuantity(t *testing.T) {
	cases := []struct {
		in       string
		wantVal  float64
		wantUnit string
	}{
		{"Bio Äpfel 500g", 500, "g"},
		{"Milk 1.5 kg", 1.5, "kg"},
		{"Qumësht 1 l", 1, "l"},
		{"Мляко прясно 500 мл", 500, "ml"},
		{"Eier 10 Stück", 10, "pieces"},
		{"Туалетная бумага 8 шт", 8, "pieces"},
		{"Joghurt 6 x 250 g", 1500, "g"},
		{"Wasser 6x1,5 l", 9, "l"},
	}

	for _, c := range cases {
		got := ExtractQuantity(c.in)
		if got == nil {
			t.Fatalf("ExtractQuantity(%q) = nil, want {%v %s}", c.in, c.wantVal, c.wantUnit)
		}
		if got.Value != c.wantVal || got.Unit != c.wantUnit {
			t.Fatalf("ExtractQuantity(%q) = {%v %s}, want {%v %s}",
				c.in, got.Value, got.Unit, c.wantVal, c.wantUnit)
		}
	}
}

func TestExtractQuantity_NoToken(t *testing.T) {
	for _, in := range []string{"Frisches Brot", "Vaj ulliri", ""} {
		if got := ExtractQuantity(in); got != nil {
			t.Fatalf("ExtractQuantity(%q) = {%v %s}, want nil", in, got.Value, got.Unit)
		}
	}
}

func TestNormalizeUnit_Collapse(t *testing.T) {
	unit, qty := NormalizeUnit("g", 1500)
	if unit != "kg" || qty != 1.5 {
		t.Fatalf("NormalizeUnit(g, 1500) = %s %v, want kg 1.5", unit, qty)
	}

	unit, qty = NormalizeUnit("мл", 2000)
	if unit != "l" || qty != 2 {
		t.Fatalf("NormalizeUnit(мл, 2000) = %s %v, want l 2", unit, qty)
	}

	unit, qty = NormalizeUnit("g", 250)
	if unit != "g" || qty != 250 {
		t.Fatalf("NormalizeUnit(g, 250) = %s %v, want g 250", unit, qty)
	}
}

// Grams at or above 1000 must land on the same value as the equivalent
// kilogram input.
func TestNormalizeUnit_CollapseInvariant(t *testing.T) {
	for _, q := range []float64{1000, 1250, 2000, 9999} {
		gu, gq := NormalizeUnit("g", q)
		ku, kq := NormalizeUnit("kg", q/1000)
		if gu != ku || gq != kq {
			t.Fatalf("collapse mismatch for q=%v: (%s %v) vs (%s %v)", q, gu, gq, ku, kq)
		}
	}
}

func TestNormalizeUnit_UnknownPassthrough(t *testing.T) {
	unit, qty := NormalizeUnit("bottle", 3)
	if unit != "bottle" || qty != 3 {
		t.Fatalf("NormalizeUnit(bottle, 3) = %s %v, want passthrough", unit, qty)
	}
}

func TestPricePerUnit(t *testing.T) {
	cases := []struct {
		price, qty float64
		unit       string
		want       float64
	}{
		{2.50, 500, "g", 5.00},    // per kg
		{3.00, 1.5, "kg", 2.00},   // per kg
		{1.20, 330, "ml", 3.64},   // per l
		{4.00, 2, "l", 2.00},      // per l
		{3.00, 10, "pieces", 0.3}, // per piece
	}

	for _, c := range cases {
		got := PricePerUnit(c.price, c.qty, c.unit)
		if got == nil {
			t.Fatalf("PricePerUnit(%v, %v, %s) = nil, want %v", c.price, c.qty, c.unit, c.want)
		}
		if math.Abs(*got-c.want) > 1e-9 {
			t.Fatalf("PricePerUnit(%v, %v, %s) = %v, want %v", c.price, c.qty, c.unit, *got, c.want)
		}
	}
}

func TestPricePerUnit_UnknownIsNil(t *testing.T) {
	if got := PricePerUnit(2.50, 0, "g"); got != nil {
		t.Fatalf("zero quantity: got %v, want nil", *got)
	}
	if got := PricePerUnit(2.50, 3, "bottle"); got != nil {
		t.Fatalf("unknown unit: got %v, want nil", *got)
	}
	if got := PricePerUnit(0, 500, "g"); got != nil {
		t.Fatalf("zero price: got %v, want nil", *got)
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Bio Äpfel 500g", "bio apfel 500g"},
		{"  Café   Crème ", "cafe creme"},
		{"Qumësht lope 3,5%", "qumesht lope 3 5"},
		{"MLEKO SVEŽE", "mleko sveze"},
	}

	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
