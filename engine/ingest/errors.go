package ingest

import (
	"errors"
	"fmt"
)

// ErrTooLarge marks uploads above the configured size limit
var ErrTooLarge = errors.New("file too large")

// ErrNotPDF marks uploads whose content is not a PDF
var ErrNotPDF = errors.New("not a PDF")

// InvalidInputError rejects an upload before any ingestion state is created
type InvalidInputError struct {
	Name   string
	Reason string
	Err    error // ErrTooLarge or ErrNotPDF
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid upload %q: %s", e.Name, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// PDFProcessingError is a parse, render or cancellation failure during ingestion
type PDFProcessingError struct {
	Stage    string  // read, open, measure, render, encode, limit
	Page     int     // 1-based page number for render and encode failures, else 0
	Progress float64 // last progress reported before the failure
	Err      error
}

func (e *PDFProcessingError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("pdf processing failed at %s of page %d: %v", e.Stage, e.Page, e.Err)
	}
	return fmt.Sprintf("pdf processing failed at %s: %v", e.Stage, e.Err)
}

func (e *PDFProcessingError) Unwrap() error {
	return e.Err
}
