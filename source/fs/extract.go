package fs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/opengs/ragchunk/source"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const emlMimeType = "message/rfc822"

// Number of bytes used to detect document type.
const mimeBlockSize = 3072

var ErrUnsupportedDocument = source.ErrUnsupportedDocument

// Headers at least one of which must be present for text to be treated as an e-mail.
var emlHeaders = [][]byte{
	[]byte("from:"),
	[]byte("to:"),
	[]byte("subject:"),
	[]byte("date:"),
	[]byte("received:"),
	[]byte("message-id:"),
	[]byte("return-path:"),
	[]byte("mime-version:"),
}

func init() {
	mimetype.Lookup("text/plain").Extend(emlDetector, emlMimeType, ".eml")
}

// Text starting with a block of RFC 5322 header fields.
func emlDetector(raw []byte, limit uint32) bool {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	known := false
	lines := 0
	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			return known && lines > 1
		}
		lines++

		if line[0] == ' ' || line[0] == '\t' {
			if lines == 1 {
				return false
			}
			continue
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 || bytes.ContainsAny(line[:colon], " \t") {
			return false
		}

		lower := bytes.ToLower(line[:colon+1])
		for _, header := range emlHeaders {
			if bytes.Equal(lower, header) {
				known = true
			}
		}
	}

	// Headers may be cut by the detection limit
	return known && lines > 1
}

// Detects document type and returns reader with its plain text.
func extractText(r io.Reader, path string) (io.Reader, error) {
	mimeBlock := make([]byte, mimeBlockSize)
	readed, err := io.ReadFull(r, mimeBlock)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Join(errors.New("failed to read document to determine mime type"), err)
	}

	full := io.MultiReader(bytes.NewReader(mimeBlock[:readed]), r)
	if readed == 0 {
		return full, nil
	}

	detected := mimetype.Detect(mimeBlock[:readed])
	if detected.Is(emlMimeType) {
		return extractEML(full, path)
	}

	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return full, nil
		}
	}

	return nil, fmt.Errorf("%w: %s has type %s", ErrUnsupportedDocument, path, detected.String())
}

// E-mail text is its subject followed by all text/plain parts.
func extractEML(r io.Reader, path string) (io.Reader, error) {
	mailReader, err := mail.CreateReader(r)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to read e-mail %s", path), err)
	}
	defer mailReader.Close()

	var text strings.Builder
	if subject, err := mailReader.Header.Subject(); err == nil && subject != "" {
		text.WriteString("Subject: ")
		text.WriteString(subject)
		text.WriteString("\n\n")
	}

	for {
		part, err := mailReader.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Join(fmt.Errorf("error while reading part of e-mail %s", path), err)
		}

		contentType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if contentType != "" && contentType != "text/plain" {
			continue
		}
		if disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition")); disposition == "attachment" {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to read body of e-mail %s", path), err)
		}
		text.Write(body)
		text.WriteString("\n")
	}

	return strings.NewReader(text.String()), nil
}
