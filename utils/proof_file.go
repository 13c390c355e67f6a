package utils

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// ProofDir is the local fallback location for proof photos when R2 is not
// configured.
func ProofDir() string {
	dir := os.Getenv("PROOFS_DIR")
	if dir == "" {
		dir = "data/proofs"
	}
	return dir
}

// EnsureProofDir creates the local proofs directory if it doesn't exist
func EnsureProofDir() error {
	return os.MkdirAll(ProofDir(), os.ModePerm)
}

// SanitizeFilename strips anything that shouldn't end up in a path segment.
func SanitizeFilename(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// SaveProofFile writes the uploaded proof to local disk and returns its path.
func SaveProofFile(fileHeader *multipart.FileHeader, filename string) (string, error) {
	destPath := filepath.Join(ProofDir(), SanitizeFilename(filename))
	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return "", err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return destPath, nil
}
