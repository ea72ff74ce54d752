package modules

// Deposit is charge created at a point of a detector's sensitive area.
// X and Y are normalized to [0, 1).
type Deposit struct {
	X, Y   float64
	Charge float64 // electrons
}

// DepositedCharge carries every deposit of one event in one detector.
type DepositedCharge struct {
	Detector string
	Deposits []Deposit
}

// Pixel is the charge collected by one pixel.
type Pixel struct {
	Col, Row int
	Charge   float64 // electrons
}

// PixelCharge carries the pixels above threshold of one event in one
// detector, ordered by column then row.
type PixelCharge struct {
	Detector string
	Pixels   []Pixel
}

// TotalCharge sums the charge of all pixels.
func (p PixelCharge) TotalCharge() float64 {
	total := 0.0
	for _, px := range p.Pixels {
		total += px.Charge
	}
	return total
}
