package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt carries the fields rendered on an enrollment payment receipt.
type Receipt struct {
	EnrollmentID string
	ClassTitle   string
	Instructor   string
	StudentEmail string
	PaymentRef   string
	AmountCents  int64
	Currency     string
	EnrolledAt   time.Time
}

// Renderer produces PDF receipts for completed enrollments.
type Renderer struct{}

// NewRenderer constructs a receipt renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render creates a single-page PDF receipt.
func (r *Renderer) Render(rec Receipt) ([]byte, error) {
	if rec.EnrollmentID == "" || rec.PaymentRef == "" {
		return nil, fmt.Errorf("receipt requires enrollment and payment references")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "MENTORIUM PAYMENT RECEIPT", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Receipt No.", rec.EnrollmentID},
		{"Class", rec.ClassTitle},
		{"Instructor", rec.Instructor},
		{"Student", rec.StudentEmail},
		{"Transaction", rec.PaymentRef},
		{"Amount Paid", formatAmount(rec.AmountCents, rec.Currency)},
		{"Enrolled At", rec.EnrolledAt.UTC().Format(time.RFC1123)},
	}

	pdf.SetFont("Arial", "", 11)
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(50, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(130, 8, row[1], "1", 1, "", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 6, "This receipt confirms a completed class enrollment. Keep it for your records.", "", 1, "", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func formatAmount(cents int64, currency string) string {
	if currency == "" {
		currency = "usd"
	}
	return fmt.Sprintf("%.2f %s", float64(cents)/100, strings.ToUpper(currency))
}
