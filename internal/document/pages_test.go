package document

import (
	"bytes"
	"errors"
	"testing"
)

func TestPDFPageCount(t *testing.T) {
	for _, pages := range []int{1, 3, 12} {
		n, err := PDFPageCount(bytes.NewReader(BlankPDF(pages)))
		if err != nil {
			t.Fatalf("pages=%d: %v", pages, err)
		}
		if n != pages {
			t.Errorf("PDFPageCount = %d, want %d", n, pages)
		}
	}
}

func TestPDFPageCountRejectsGarbage(t *testing.T) {
	_, err := PDFPageCount(bytes.NewReader([]byte("%PDF-1.4\nnot really a pdf\n")))
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("err = %v, want ErrUnreadable", err)
	}
}
