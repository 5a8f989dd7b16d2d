package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/pkg/models"
)

const (
	ColorLong  = 0x00C853
	ColorShort = 0xD32F2F

	// InfoTitle заголовок служебных сообщений
	InfoTitle = "Signals Bot"
)

var numberEmoji = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

var priceSteps = []struct {
	below  decimal.Decimal
	places int32
}{
	{decimal.RequireFromString("0.01"), 7},
	{decimal.NewFromInt(1), 6},
	{decimal.NewFromInt(10), 4},
	{decimal.NewFromInt(1000), 3},
}

// FormatPrice число знаков зависит от порядка цены, хвостовые нули отбрасываются
func FormatPrice(x decimal.Decimal) string {
	if x.IsZero() {
		return "0"
	}
	abs := x.Abs()
	if abs.LessThan(decimal.RequireFromString("0.0001")) {
		return x.StringFixed(8)
	}
	places := int32(2)
	for _, step := range priceSteps {
		if abs.LessThan(step.below) {
			places = step.places
			break
		}
	}
	s := x.StringFixed(places)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// Currency котировка символа: "ENA/USDT" -> "USDT"
func Currency(symbol string) string {
	if _, quote, err := models.SplitSymbol(symbol); err == nil {
		return quote
	}
	return "USDT"
}

// Color цвет карточки по направлению
func Color(side models.Side) int {
	if side == models.SideLong {
		return ColorLong
	}
	return ColorShort
}

// Describe текст карточки сигнала. bold оформляет выделение под конкретный канал.
func Describe(a *models.Alert, bold func(string) string) string {
	cur := Currency(a.Symbol)
	dot := "🔴 " + bold("Short")
	if a.Side == models.SideLong {
		dot = "🟢 " + bold("Long")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", dot)
	fmt.Fprintf(&b, "%s %s\n", bold("Name:"), a.Symbol)
	fmt.Fprintf(&b, "%s Cross (%dx)\n\n", bold("Leverage:"), a.Leverage)
	fmt.Fprintf(&b, "🌀 %s: %s – %s\n", bold("Entry Price ("+cur+")"), FormatPrice(a.EntryLow), FormatPrice(a.EntryHigh))
	fmt.Fprintf(&b, "\n🎯 %s\n", bold("Targets in "+cur+":"))
	for i, tp := range a.Targets {
		if i >= len(numberEmoji) {
			break
		}
		fmt.Fprintf(&b, "%s %s\n", numberEmoji[i], FormatPrice(tp))
	}
	fmt.Fprintf(&b, "\n🛑 %s %s", bold("StopLoss:"), FormatPrice(a.StopLoss))
	for _, n := range a.Annotations {
		fmt.Fprintf(&b, "\n\n- %s: %s", n.Label, n.Text)
	}
	return b.String()
}

func markdownBold(s string) string { return "**" + s + "**" }
