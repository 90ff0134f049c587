package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/iago/content-router/internal/domain"
)

const noiseSelectors = "script, style, noscript, nav, header, footer, aside, form, iframe, svg"

// Page is the readable part of an HTML document.
type Page struct {
	Title string
	Text  string
	Links []string
}

// HTML pulls the title and visible body text out of an HTML document.
// Content inside <article> or <main> wins over the whole body.
func HTML(raw string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	doc.Find(noiseSelectors).Remove()

	title := strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = collapse(doc.Find("title").First().Text())
	}
	if title == "" {
		title = collapse(doc.Find("h1").First().Text())
	}

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	blocks := make([]string, 0)
	root.Find("h1, h2, h3, h4, p, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("li, blockquote").Length() > 0 && goquery.NodeName(s) == "p" {
			return
		}
		if text := collapse(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	text := strings.Join(blocks, "\n")
	if text == "" {
		text = collapse(root.Text())
	}

	links := make([]string, 0)
	root.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			links = append(links, href)
		}
	})

	return Page{Title: title, Text: text, Links: links}, nil
}

// Item rewrites an html item into a text item. The extracted title only
// fills an empty Title; links are appended so video ids survive extraction.
func Item(item domain.ContentItem) (domain.ContentItem, error) {
	page, err := HTML(item.Text)
	if err != nil {
		return item, err
	}

	out := item
	out.Text = page.Text
	if len(page.Links) > 0 {
		out.Text += "\n" + strings.Join(page.Links, "\n")
	}
	if strings.TrimSpace(out.Title) == "" {
		out.Title = page.Title
	}
	return out, nil
}

func collapse(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
