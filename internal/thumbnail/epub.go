package thumbnail

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"
)

const maxCoverBytes = 20 << 20

// EPUB extracts the cover image declared by the package document.
type EPUB struct {
	Width int
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Meta []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []manifestItem `xml:"item"`
	} `xml:"manifest"`
}

type manifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

func (e *EPUB) Render(ctx context.Context, data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("epub: open archive: %w", err)
	}

	var c container
	if err := decodeXML(zr, "META-INF/container.xml", &c); err != nil {
		return nil, err
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return nil, fmt.Errorf("epub: container has no rootfile")
	}
	opfPath := c.Rootfiles[0].FullPath

	var pkg opfPackage
	if err := decodeXML(zr, opfPath, &pkg); err != nil {
		return nil, err
	}

	item, ok := findCover(pkg)
	if !ok {
		return nil, ErrNoThumbnail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	coverPath := path.Join(path.Dir(opfPath), item.Href)
	raw, err := readEntry(zr, coverPath, maxCoverBytes)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("epub: decode cover %s: %w", coverPath, err)
	}
	return encodeJPEG(scaleToWidth(img, e.Width))
}

// findCover tries EPUB3 properties, then the EPUB2 <meta name="cover">, then
// any image whose id or href mentions "cover".
func findCover(pkg opfPackage) (manifestItem, bool) {
	items := pkg.Manifest.Items

	for _, it := range items {
		if hasToken(it.Properties, "cover-image") {
			return it, true
		}
	}

	for _, m := range pkg.Metadata.Meta {
		if m.Name != "cover" || m.Content == "" {
			continue
		}
		for _, it := range items {
			if it.ID == m.Content && isImage(it) {
				return it, true
			}
		}
	}

	for _, it := range items {
		if !isImage(it) {
			continue
		}
		if strings.Contains(strings.ToLower(it.ID), "cover") || strings.Contains(strings.ToLower(it.Href), "cover") {
			return it, true
		}
	}
	return manifestItem{}, false
}

func isImage(it manifestItem) bool {
	return strings.HasPrefix(it.MediaType, "image/")
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

func decodeXML(zr *zip.Reader, name string, v any) error {
	raw, err := readEntry(zr, name, 1<<20)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("epub: parse %s: %w", name, err)
	}
	return nil
}

func readEntry(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("epub: open %s: %w", name, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read %s: %w", name, err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("epub: %s is too large", name)
	}
	return raw, nil
}
