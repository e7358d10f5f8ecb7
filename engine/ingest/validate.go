package ingest

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// PDFMimeType is the only accepted upload type
const PDFMimeType = "application/pdf"

// ValidateUpload checks the size and sniffs the leading bytes of an upload
func ValidateUpload(name string, header []byte, size, maxBytes int64) error {
	if maxBytes > 0 && size > maxBytes {
		return &InvalidInputError{
			Name:   name,
			Reason: fmt.Sprintf("%d bytes exceeds the %d byte limit", size, maxBytes),
			Err:    ErrTooLarge,
		}
	}
	if size == 0 || len(header) == 0 {
		return &InvalidInputError{Name: name, Reason: "file is empty", Err: ErrNotPDF}
	}
	mtype := mimetype.Detect(header)
	if !mtype.Is(PDFMimeType) {
		return &InvalidInputError{
			Name:   name,
			Reason: fmt.Sprintf("detected %s, expected %s", mtype.String(), PDFMimeType),
			Err:    ErrNotPDF,
		}
	}
	return nil
}
