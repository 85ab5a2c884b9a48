package domain

// Order es una orden limit lista para validar y firmar.
type Order struct {
	TokenID string
	Price   float64
	Size    float64 // en tokens
	Side    string  // "BUY" | "SELL"
}

// OrderValidation es el resultado de validar una orden.
type OrderValidation struct {
	Valid  bool
	Errors []string
}

// SubmitResult es la respuesta del ejecutor externo a una orden sometida.
type SubmitResult struct {
	ExecutedPrice float64
	SettlementRef string
}

const (
	// minOrderSize es el tamaño mínimo en tokens aceptado por el CLOB.
	minOrderSize = 0.01
	// tokenIDLength: los token IDs del CTF son hex de 66 caracteres (0x + 64).
	tokenIDLength = 66
)

// ValidateOrder comprueba que una orden sea ejecutable: precio en (0,1),
// tamaño sobre el mínimo y referencia de token bien formada. Devuelve
// todos los fallos, no solo el primero.
func ValidateOrder(o Order) OrderValidation {
	var errs []string

	if o.Price <= 0 || o.Price >= 1 {
		errs = append(errs, "price must be between 0 and 1")
	}
	if o.Size <= 0 {
		errs = append(errs, "size must be greater than 0")
	}
	if o.Size > 0 && o.Size < minOrderSize {
		errs = append(errs, "size below minimum of 0.01")
	}
	if len(o.TokenID) != tokenIDLength {
		errs = append(errs, "malformed token id")
	}

	return OrderValidation{Valid: len(errs) == 0, Errors: errs}
}

// SplitInvestment reparte la inversión entre las dos patas proporcional
// al peso de cada precio en el total, de modo que ambas consuman la misma
// fracción nocional del desajuste.
func SplitInvestment(investmentUSD, yesPrice, noPrice float64) (yesUSD, noUSD float64) {
	total := yesPrice + noPrice
	if total <= 0 {
		return 0, 0
	}
	yesUSD = investmentUSD * yesPrice / total
	noUSD = investmentUSD * noPrice / total
	return yesUSD, noUSD
}
