// Package imageprep validates veterinary record images and encodes them as data URIs.
package imageprep

import (
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/constants"
	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/common"
)

const dataURIBase64Marker = ";base64,"

// Asset is an image loaded fresh from disk. It is never cached or written back.
type Asset struct {
	Path     string
	Name     string
	MIMEType string
	Data     []byte
}

// DataURI renders the asset as data:<mime>;base64,<payload>.
func (a Asset) DataURI() string {
	return "data:" + a.MIMEType + dataURIBase64Marker + base64.StdEncoding.EncodeToString(a.Data)
}

// Prepare loads path and returns its data URI.
func Prepare(path string) (string, error) {
	asset, err := Load(path)
	if err != nil {
		return "", err
	}
	return asset.DataURI(), nil
}

// Load validates path and reads its content.
//
// A missing path is NOT_FOUND. A directory, an extension other than
// .jpg/.jpeg/.png (any case) or a zero byte file is INVALID_INPUT.
func Load(path string) (Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Asset{}, common.NotFoundError("image file does not exist", path)
		}
		return Asset{}, common.NewAppError(common.KindInvalidInput, "cannot stat image file", err)
	}
	if info.IsDir() {
		return Asset{}, common.InvalidInputError("image path is a directory", path)
	}
	if !info.Mode().IsRegular() {
		return Asset{}, common.InvalidInputError("image path is not a regular file", path)
	}

	mt, err := MIMEType(path)
	if err != nil {
		return Asset{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Asset{}, common.NotFoundError("image file disappeared before read", path)
		}
		return Asset{}, common.NewAppError(common.KindInvalidInput, "failed to read image file", err)
	}
	if len(data) == 0 {
		return Asset{}, common.InvalidInputError("image file is empty", path)
	}

	return Asset{
		Path:     path,
		Name:     filepath.Base(path),
		MIMEType: mt,
		Data:     data,
	}, nil
}

// MIMEType picks the MIME type from the extension only; content is never sniffed.
func MIMEType(path string) (string, error) {
	ext := filepath.Ext(path)
	mt, ok := constants.MIMETypeForExt(ext)
	if !ok {
		return "", common.InvalidInputError("unsupported image extension "+strings.ToLower(ext), path)
	}
	return mt, nil
}

// DecodeDataURI splits a base64 data URI back into its MIME type and bytes.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, common.InvalidInputError("not a data URI", "")
	}
	mt, payload, ok := strings.Cut(rest, dataURIBase64Marker)
	if !ok || mt == "" {
		return "", nil, common.InvalidInputError("data URI is not base64 encoded", "")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, common.NewAppError(common.KindInvalidInput, "invalid base64 payload", err)
	}
	return mt, data, nil
}
