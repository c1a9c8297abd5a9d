package convert

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizePDFPassThrough(t *testing.T) {
	in := File{Name: "doc.pdf", Data: []byte("%PDF-1.4 fake")}
	out, err := Normalize(context.Background(), in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Name != "doc.pdf" {
		t.Errorf("Name = %q, want %q", out.Name, "doc.pdf")
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("pdf bytes were modified")
	}
}

func TestNormalizePNG(t *testing.T) {
	out, err := Normalize(context.Background(), File{Name: "scan.png", Data: pngBytes(t, 8, 6)})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Name != "scan.pdf" {
		t.Errorf("Name = %q, want %q", out.Name, "scan.pdf")
	}
	if !bytes.HasPrefix(out.Data, []byte("%PDF-1.4")) {
		t.Errorf("output does not start with PDF header: %q", out.Data[:16])
	}
	if !bytes.Contains(out.Data, []byte("/DCTDecode")) {
		t.Error("output has no DCTDecode image stream")
	}
	if !bytes.HasSuffix(out.Data, []byte("%%EOF\n")) {
		t.Error("output missing EOF marker")
	}
}

func TestNormalizeJPEGEmbedsOriginal(t *testing.T) {
	data := jpegBytes(t, 4, 4)
	out, err := Normalize(context.Background(), File{Name: "photo.JPG", Data: data})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !bytes.Contains(out.Data, data) {
		t.Error("original jpeg bytes not embedded in pdf")
	}
}

func TestNormalizeUnsupported(t *testing.T) {
	_, err := Normalize(context.Background(), File{Name: "notes.txt", Data: []byte("hello")})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestNormalizeCorruptImage(t *testing.T) {
	_, err := Normalize(context.Background(), File{Name: "bad.png", Data: []byte("not a png")})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestNormalizeAllPreservesOrder(t *testing.T) {
	files := []File{
		{Name: "a.pdf", Data: []byte("%PDF-1.4 a")},
		{Name: "b.png", Data: pngBytes(t, 2, 2)},
		{Name: "c.pdf", Data: []byte("%PDF-1.4 c")},
	}
	out, err := NormalizeAll(context.Background(), files)
	if err != nil {
		t.Fatalf("NormalizeAll: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	want := []string{"a.pdf", "b.pdf", "c.pdf"}
	for i, name := range want {
		if out[i].Name != name {
			t.Errorf("out[%d].Name = %q, want %q", i, out[i].Name, name)
		}
	}
}

func TestNormalizeAllFailsFast(t *testing.T) {
	files := []File{
		{Name: "a.pdf", Data: []byte("%PDF-1.4 a")},
		{Name: "weird.xyz", Data: []byte("???")},
	}
	_, err := NormalizeAll(context.Background(), files)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestStemAndExt(t *testing.T) {
	cases := []struct {
		name string
		stem string
		ext  string
	}{
		{"report.pdf", "report", "pdf"},
		{"dir/scan.PNG", "scan", "png"},
		{"noext", "noext", ""},
		{"a.b.docx", "a.b", "docx"},
	}
	for _, c := range cases {
		if got := Stem(c.name); got != c.stem {
			t.Errorf("Stem(%q) = %q, want %q", c.name, got, c.stem)
		}
		if got := Ext(c.name); got != c.ext {
			t.Errorf("Ext(%q) = %q, want %q", c.name, got, c.ext)
		}
	}
}
