// Package report handles uploaded blood-test PDFs: validation,
// content fingerprinting, on-disk storage, and text extraction.
package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	ErrNotPDF    = errors.New("file is not a PDF")
	ErrEmptyFile = errors.New("uploaded file is empty")
	ErrTooLarge  = errors.New("file exceeds the maximum allowed size")
	ErrMalformed = errors.New("PDF could not be parsed")
)

var pdfMagic = []byte("%PDF-")

// Fingerprint returns the sha256 hex digest of the raw upload bytes.
// Identical files always produce identical fingerprints, which drives
// duplicate-submission detection.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Validate rejects uploads that should never reach the queue: wrong
// extension, empty or oversized content, or bytes that do not parse as
// a PDF with at least one page.
func Validate(filename string, content []byte, maxSize int64) error {
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return ErrNotPDF
	}
	if len(content) == 0 {
		return ErrEmptyFile
	}
	if int64(len(content)) > maxSize {
		return ErrTooLarge
	}
	if !bytes.HasPrefix(content, pdfMagic) {
		return ErrNotPDF
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCount(bytes.NewReader(content), conf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if pageCount < 1 {
		return ErrMalformed
	}
	return nil
}

// Store persists uploads under a single directory, one file per analysis.
type Store struct {
	dir string
}

// NewStore creates the upload directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the upload to disk and returns its path.
func (s *Store) Save(analysisID uuid.UUID, content []byte) (string, error) {
	path := s.Path(analysisID)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// Path returns the on-disk location for an analysis upload.
func (s *Store) Path(analysisID uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("blood_test_report_%s.pdf", analysisID))
}

// Remove deletes the upload for an analysis. Missing files are fine:
// the worker removes the file after the terminal transition, so a
// later delete may find nothing.
func (s *Store) Remove(analysisID uuid.UUID) error {
	err := os.Remove(s.Path(analysisID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
