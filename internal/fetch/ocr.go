package fetch

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// ocrPDF rasterizes the embedded page images of a PDF and runs Tesseract OCR
// over at most maxPages pages. Used only when the text layer came back empty.
func ocrPDF(body []byte, maxPages int, logger *zap.Logger) (string, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	selected := make([]string, 0, maxPages)
	for i := 1; i <= maxPages; i++ {
		selected = append(selected, strconv.Itoa(i))
	}

	conf := model.NewDefaultConfiguration()
	images, err := api.ExtractImagesRaw(bytes.NewReader(body), selected, conf)
	if err != nil {
		return "", fmt.Errorf("extract pdf images: %w", err)
	}

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	var out strings.Builder
	for _, pageImages := range images {
		for _, img := range pageImages {
			data, err := io.ReadAll(img)
			if err != nil || len(data) == 0 {
				continue
			}
			if err := client.SetImageFromBytes(data); err != nil {
				logger.Debug("ocr: unsupported image", zap.Error(err))
				continue
			}
			text, err := client.Text()
			if err != nil {
				logger.Debug("ocr: tesseract failed", zap.Error(err))
				continue
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(text)
		}
	}
	return out.String(), nil
}
