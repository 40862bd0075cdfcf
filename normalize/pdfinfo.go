package normalize

import (
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// InspectPDF validates the file structure and returns its page count,
// which may be zero.
func InspectPDF(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("validating pdf: %w", err)
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	return reader.NumPage(), nil
}
