package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return zr, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// extractDOCX returns paragraphs one per line. Table rows are written as
// their cell texts joined with " | ".
func extractDOCX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	f := findZipFile(zr, "word/document.xml")
	if f == nil {
		return "", fmt.Errorf("word/document.xml not found")
	}
	b, err := readZipFile(f)
	if err != nil {
		return "", err
	}

	dec := xml.NewDecoder(bytes.NewReader(b))
	var (
		out        strings.Builder
		para       strings.Builder
		cells      []string
		tableDepth int
		inText     bool
	)
	flushPara := func() {
		p := strings.TrimSpace(para.String())
		para.Reset()
		if p == "" {
			return
		}
		out.WriteString(p)
		out.WriteString("\n")
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "tbl":
				tableDepth++
			case "tr":
				cells = cells[:0]
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if tableDepth == 0 {
					flushPara()
				} else {
					para.WriteString(" ")
				}
			case "tc":
				cells = append(cells, strings.TrimSpace(para.String()))
				para.Reset()
			case "tr":
				if row := strings.Join(cells, " | "); strings.Trim(row, " |") != "" {
					out.WriteString(row)
					out.WriteString("\n")
				}
			case "tbl":
				tableDepth--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flushPara()
	return out.String(), nil
}

// extractPPTX returns slide texts in slide order, each under a
// "--- Slide N ---" header.
func extractPPTX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, f: f})
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var out strings.Builder
	for _, s := range slides {
		b, err := readZipFile(s.f)
		if err != nil {
			return "", fmt.Errorf("read slide %d: %w", s.n, err)
		}
		lines, err := slideText(b)
		if err != nil {
			return "", fmt.Errorf("parse slide %d: %w", s.n, err)
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&out, "\n--- Slide %d ---\n", s.n)
		out.WriteString(strings.Join(lines, "\n"))
		out.WriteString("\n")
	}
	return out.String(), nil
}

// slideText collects the text of each <a:p> paragraph on a slide.
func slideText(b []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	var (
		lines  []string
		para   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(para.String()); p != "" {
					lines = append(lines, p)
				}
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return lines, nil
}
