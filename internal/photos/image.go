package photos

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotAnImage is returned for uploads whose content is not a supported image.
var ErrNotAnImage = errors.New("photo must be a JPEG, PNG, GIF, WebP or BMP image")

// sniffLen is how many leading bytes content detection looks at.
const sniffLen = 512

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// SniffImage detects the content type of data from its leading bytes and
// returns it with the extension photos of that type are stored under.
// The uploaded file name plays no part.
func SniffImage(data []byte) (contentType, ext string, err error) {
	contentType = detect(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: got %s", ErrNotAnImage, contentType)
	}
	return contentType, ext, nil
}

// ServedContentType is the media type stored bytes are served with. Anything
// that does not sniff as a supported image is application/octet-stream.
func ServedContentType(head []byte) string {
	ct := detect(head)
	if _, ok := imageExtensions[ct]; !ok {
		return "application/octet-stream"
	}
	return ct
}

func detect(head []byte) string {
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	ct, _, _ := strings.Cut(http.DetectContentType(head), ";")
	return ct
}
