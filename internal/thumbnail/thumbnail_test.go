package thumbnail

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type epubFile struct {
	name string
	data []byte
}

func buildEPUB(t *testing.T, files ...epubFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte("application/epub+zip"))
	require.NoError(t, err)

	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func TestEPUB_CoverImageProperty(t *testing.T) {
	opf := `<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata/>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="img" href="images/front.png" media-type="image/png" properties="cover-image"/>
  </manifest>
</package>`
	data := buildEPUB(t,
		epubFile{"META-INF/container.xml", []byte(containerXML)},
		epubFile{"OEBPS/content.opf", []byte(opf)},
		epubFile{"OEBPS/images/front.png", pngImage(t, 800, 1200)},
	)

	out, err := (&EPUB{Width: 400}).Render(context.Background(), data)
	require.NoError(t, err)
	require.True(t, isJPEG(out))

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 400, img.Bounds().Dx())
	require.Equal(t, 600, img.Bounds().Dy())
}

func TestEPUB_MetaCover(t *testing.T) {
	opf := `<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata><meta name="cover" content="pic"/></metadata>
  <manifest>
    <item id="pic" href="art.png" media-type="image/png"/>
  </manifest>
</package>`
	data := buildEPUB(t,
		epubFile{"META-INF/container.xml", []byte(containerXML)},
		epubFile{"OEBPS/content.opf", []byte(opf)},
		epubFile{"OEBPS/art.png", pngImage(t, 100, 150)},
	)

	out, err := (&EPUB{Width: 400}).Render(context.Background(), data)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 100, img.Bounds().Dx(), "small covers are not upscaled")
}

func TestEPUB_NoCover(t *testing.T) {
	opf := `<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata/>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
</package>`
	data := buildEPUB(t,
		epubFile{"META-INF/container.xml", []byte(containerXML)},
		epubFile{"OEBPS/content.opf", []byte(opf)},
	)

	_, err := (&EPUB{Width: 400}).Render(context.Background(), data)
	require.ErrorIs(t, err, ErrNoThumbnail)
}

func TestEPUB_Broken(t *testing.T) {
	_, err := (&EPUB{}).Render(context.Background(), []byte("PK\x03\x04 not really a zip"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoThumbnail)

	noContainer := buildEPUB(t)
	_, err = (&EPUB{}).Render(context.Background(), noContainer)
	require.Error(t, err)
}

func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "pdftoppm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestPDF_FakeBinary(t *testing.T) {
	bin := fakeBinary(t, `cat >/dev/null; printf '\377\330\377\340'`)

	out, err := (&PDF{Bin: bin, Width: 400}).Render(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.True(t, isJPEG(out))
}

func TestPDF_Failure(t *testing.T) {
	bin := fakeBinary(t, `echo "Syntax Error: Couldn't read xref table" >&2; exit 1`)

	_, err := (&PDF{Bin: bin}).Render(context.Background(), []byte("%PDF-broken"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "xref")
}

func TestPDF_NotJPEG(t *testing.T) {
	bin := fakeBinary(t, `cat >/dev/null; printf 'P6'`)

	_, err := (&PDF{Bin: bin}).Render(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
}

func TestPDF_Timeout(t *testing.T) {
	bin := fakeBinary(t, `exec sleep 5`)

	_, err := (&PDF{Bin: bin, Timeout: 50 * time.Millisecond}).Render(context.Background(), []byte("%PDF-1.4"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPDF_Poppler(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}

	out, err := (&PDF{Width: 200}).Render(context.Background(), minimalPDF)
	require.NoError(t, err)
	require.True(t, isJPEG(out))
}

var minimalPDF = []byte(`%PDF-1.1
1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj
2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj
3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 200 300] >> endobj
trailer << /Root 1 0 R >>
%%EOF
`)
