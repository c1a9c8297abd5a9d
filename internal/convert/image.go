package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// imageToPDF decodes an image and wraps it into a single-page PDF whose
// media box matches the pixel dimensions. JPEG inputs are embedded
// as-is; other formats are re-encoded to JPEG first.
func imageToPDF(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", ErrUnsupported, err)
	}

	jpegData := data
	if format != "jpeg" {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("re-encoding image: %w", err)
		}
		jpegData = buf.Bytes()
	}

	b := img.Bounds()
	var out bytes.Buffer
	if err := writeImagePDF(&out, jpegData, b.Dx(), b.Dy()); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return out.Bytes(), nil
}

// writeImagePDF emits a minimal PDF 1.4 document with one page holding a
// DCTDecode image XObject. Object offsets are tracked as the body is
// written so the xref table is exact.
func writeImagePDF(out *bytes.Buffer, jpegData []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}

	offsets := make([]int, 6)
	writeObj := func(n int, body string) {
		offsets[n] = out.Len()
		fmt.Fprintf(out, "%d 0 obj\n%s\nendobj\n", n, body)
	}

	out.WriteString("%PDF-1.4\n")
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, fmt.Sprintf(
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /XObject << /Im0 4 0 R >> >> /Contents 5 0 R >>",
		width, height))

	offsets[4] = out.Len()
	fmt.Fprintf(out,
		"4 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n",
		width, height, len(jpegData))
	out.Write(jpegData)
	out.WriteString("\nendstream\nendobj\n")

	content := fmt.Sprintf("q %d 0 0 %d 0 0 cm /Im0 Do Q", width, height)
	offsets[5] = out.Len()
	fmt.Fprintf(out, "5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content)

	xref := out.Len()
	out.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(out, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(out, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return nil
}
