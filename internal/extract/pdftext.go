package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFText reads the embedded text layer of a PDF. Pure image scans give an
// empty result, which a Chain hands on to the OCR service.
type PDFText struct{}

func (PDFText) Extract(ctx context.Context, path string) (Result, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	pages := r.NumPage()
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return Result{}, fmt.Errorf("reading page %d of %s: %w", i, path, err)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return Result{Text: b.String(), Pages: pages}, nil
}
