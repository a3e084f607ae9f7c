package fetcher

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

var errNotHTML = errors.New("response is not an HTML document")

// pageGrid parses body as HTML and counts the elements matching anchor.
// A body without element markup, or a page without any anchor element, is
// reported as an error so the caller treats it as a malformed payload.
func pageGrid(body []byte, anchor string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	// The HTML parser synthesizes html/head/body for any input, so a real
	// page is one whose body has element children.
	if doc.Find("body").Children().Length() == 0 {
		return 0, errNotHTML
	}
	n := doc.Find(anchor).Length()
	if n == 0 {
		return 0, fmt.Errorf("availability grid %q not found", anchor)
	}
	return n, nil
}
