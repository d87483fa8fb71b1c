package assemble

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// pdfcpu would otherwise create a configuration directory under the
	// user's home on first use.
	api.DisableConfigDir()
}

func pdfcpuConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Validate checks that data is a well-formed PDF.
func Validate(data []byte) error {
	if err := api.Validate(bytes.NewReader(data), pdfcpuConfig()); err != nil {
		return fmt.Errorf("invalid pdf: %w", err)
	}
	return nil
}

// CountPages returns the number of pages in a PDF.
func CountPages(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), pdfcpuConfig())
	if err != nil {
		return 0, fmt.Errorf("error counting pages: %w", err)
	}
	return n, nil
}
