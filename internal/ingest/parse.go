package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// Parsed is the parser output for one file: extracted text for textual
// formats, or the image path for images.
type Parsed struct {
	Title       string
	Text        string
	ImagePath   string
	ContentType model.ContentType
}

// Parse extracts content from raw bytes according to the content type.
// For images no bytes are decoded; the embedder consumes the path.
func Parse(path string, data []byte, ct model.ContentType) (Parsed, error) {
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := Parsed{Title: title, ContentType: ct}

	switch ct {
	case model.ContentTypeMarkdown, model.ContentTypeText:
		p.Text = string(data)
	case model.ContentTypePDF:
		text, err := extractPDFText(data)
		if err != nil {
			return Parsed{}, err
		}
		p.Text = text
	case model.ContentTypeDocx:
		text, err := extractDocxText(data)
		if err != nil {
			return Parsed{}, err
		}
		p.Text = text
	case model.ContentTypeImage:
		p.ImagePath = path
	default:
		return Parsed{}, rlerrors.Newf(rlerrors.ErrCodeInvalidInput,
			"no parser for content type %q", ct)
	}

	return p, nil
}

// extractPDFText pulls plain text from every page.
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", rlerrors.New(rlerrors.ErrCodeInvalidInput, "open pdf: "+err.Error(), err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", rlerrors.New(rlerrors.ErrCodeInvalidInput, "extract pdf page: "+err.Error(), err)
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// docx body XML: paragraphs of runs of text nodes.
type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Texts []string `xml:"t"`
	} `xml:"r"`
}

// extractDocxText reads word/document.xml out of the docx zip container.
func extractDocxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", rlerrors.New(rlerrors.ErrCodeInvalidInput, "open docx: "+err.Error(), err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", rlerrors.New(rlerrors.ErrCodeInvalidInput, "open docx body: "+err.Error(), err)
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return "", rlerrors.New(rlerrors.ErrCodeInvalidInput, "read docx body: "+err.Error(), err)
			}
			break
		}
	}
	if docXML == nil {
		return "", rlerrors.Newf(rlerrors.ErrCodeInvalidInput, "docx has no word/document.xml")
	}

	var doc docxDocument
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return "", rlerrors.New(rlerrors.ErrCodeInvalidInput, "parse docx body: "+err.Error(), err)
	}

	var sb strings.Builder
	for _, para := range doc.Body.Paragraphs {
		for _, run := range para.Runs {
			for _, t := range run.Texts {
				sb.WriteString(t)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// MIMEToContentType maps a declared MIME type onto a content type for
// in-memory ingestion.
func MIMEToContentType(mime string) (model.ContentType, bool) {
	switch {
	case strings.HasPrefix(mime, "text/markdown"):
		return model.ContentTypeMarkdown, true
	case strings.HasPrefix(mime, "text/"):
		return model.ContentTypeText, true
	case strings.HasPrefix(mime, "application/pdf"):
		return model.ContentTypePDF, true
	case strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return model.ContentTypeDocx, true
	case strings.HasPrefix(mime, "image/"):
		return model.ContentTypeImage, true
	}
	return "", false
}
