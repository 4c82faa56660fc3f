// Package images normalizes oversized attachment payloads: conditional
// resize and re-encode, plus filename extension correction by content
// sniffing.
package images

import (
	"bytes"
	"image"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	// Decoders registered for image.Decode / imaging.Decode. HEIC has no
	// pure-Go decoder; HEIC payloads pass through unmodified.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type Normalizer struct {
	maxDimension int
	quality      int
	maxSizeBytes int
	log          *slog.Logger
}

func NewNormalizer(maxDimension, quality, maxSizeMB int, log *slog.Logger) *Normalizer {
	return &Normalizer{
		maxDimension: maxDimension,
		quality:      quality,
		maxSizeBytes: maxSizeMB * 1024 * 1024,
		log:          log,
	}
}

// NeedsNormalization reports whether the payload exceeds the size threshold.
func (n *Normalizer) NeedsNormalization(data []byte) bool {
	return len(data) > n.maxSizeBytes
}

// Normalize decodes the image, scales it down so the longer side equals the
// maximum dimension (when over it), and re-encodes as JPEG at the configured
// quality, renaming the extension to match. A payload that cannot be decoded
// is returned unchanged; normalization failure never aborts the pipeline.
func (n *Normalizer) Normalize(data []byte, filename string) ([]byte, string) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		n.log.Warn("could not decode image, passing through", "filename", filename, "error", err)
		return data, filename
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > n.maxDimension || height > n.maxDimension {
		newWidth, newHeight := scaledSize(width, height, n.maxDimension)
		img = imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
		n.log.Info("resized image",
			"filename", filename,
			"width", width, "height", height,
			"new_width", newWidth, "new_height", newHeight)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		n.log.Warn("could not re-encode image, passing through", "filename", filename, "error", err)
		return data, filename
	}
	return buf.Bytes(), replaceExt(filename, ".jpg")
}

// NormalizeIfNeeded applies Normalize only to payloads over the size
// threshold. Payloads under it are returned byte-identical, with the filename
// extension corrected from the content when it is missing or wrong.
func (n *Normalizer) NormalizeIfNeeded(data []byte, filename string) ([]byte, string, bool) {
	if n.NeedsNormalization(data) {
		out, name := n.Normalize(data, filename)
		return out, name, true
	}
	return data, ensureExtension(data, filename), false
}

// scaledSize applies the single ratio min(max/w, max/h) to both axes,
// truncating; the longer side comes out exactly max.
func scaledSize(width, height, max int) (int, int) {
	if width >= height {
		return max, height * max / width
	}
	return width * max / height, max
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".bmp", ".tiff"}

func ensureExtension(data []byte, filename string) string {
	lower := strings.ToLower(filename)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return filename
		}
	}
	return replaceExt(filename, detectExtension(data))
}

// detectExtension sniffs magic bytes for the common image formats, falling
// back to the registered decoders' self-reported format, defaulting to jpeg.
func detectExtension(data []byte) string {
	if len(data) < 12 {
		return ".jpg"
	}

	switch {
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return ".jpg"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return ".png"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return ".gif"
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return ".webp"
	case bytes.Equal(data[4:12], []byte("ftypheic")) || bytes.Equal(data[4:12], []byte("ftypmif1")):
		return ".heic"
	case bytes.HasPrefix(data, []byte("BM")):
		return ".bmp"
	case bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")):
		return ".tiff"
	}

	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		switch format {
		case "jpeg":
			return ".jpg"
		case "png", "gif", "webp", "bmp", "tiff":
			return "." + format
		}
	}
	return ".jpg"
}

func replaceExt(filename, ext string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[:i] + ext
	}
	return filename + ext
}

// ContentType guesses the MIME type for an upload from the final filename,
// sniffing the payload when the extension is unknown.
func ContentType(filename string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}
