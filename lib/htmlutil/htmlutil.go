package htmlutil

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("lib/htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		buffer.WriteByte(' ')
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText strips non-printable characters and collapses whitespace.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Page is the visible text of an html document.
type Page struct {
	Title string
	Text  string
}

// Mentions reports whether any of `phrases` appears in the page, case insensitive.
func (p Page) Mentions(phrases ...string) bool {
	haystack := strings.ToLower(p.Title + " " + p.Text)
	for _, phrase := range phrases {
		if strings.Contains(haystack, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func Summarize(ctx context.Context, document []byte) (Page, error) {
	_, span := tracer.Start(ctx, "Summarize")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Title: CleanText(doc.Find("title").First().Text()),
	}
	body := doc.Find("body").Nodes
	if len(body) > 0 {
		page.Text = CleanText(GetText(body[0]))
	}

	span.SetAttributes(attribute.String("custom.title", page.Title))
	return page, nil
}
