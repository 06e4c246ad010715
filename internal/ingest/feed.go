// Package ingest scrapes registered feed sources and upserts paper
// metadata into the catalog.
package ingest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Entry is one item from an upstream feed, normalized across formats.
type Entry struct {
	ID        string
	Title     string
	Link      string
	Published *time.Time
}

type rssDoc struct {
	Channel struct {
		Items []struct {
			GUID    string `xml:"guid"`
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomDoc struct {
	Entries []struct {
		ID    string `xml:"id"`
		Title string `xml:"title"`
		Links []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Updated   string `xml:"updated"`
		Published string `xml:"published"`
	} `xml:"entry"`
}

// ParseFeed handles RSS 2.0 and Atom, the two formats the paper feeds
// we scrape actually publish.
func ParseFeed(data []byte) ([]Entry, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	switch root {
	case "rss", "RDF":
		return parseRSS(data)
	case "feed":
		return parseAtom(data)
	default:
		return nil, fmt.Errorf("unsupported feed format %q", root)
	}
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func parseRSS(data []byte) ([]Entry, error) {
	var doc rssDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}
	entries := make([]Entry, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		e := Entry{
			ID:        strings.TrimSpace(it.GUID),
			Title:     strings.TrimSpace(it.Title),
			Link:      strings.TrimSpace(it.Link),
			Published: parseFeedTime(it.PubDate),
		}
		if e.ID == "" {
			e.ID = e.Link
		}
		if e.ID == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseAtom(data []byte) ([]Entry, error) {
	var doc atomDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse atom: %w", err)
	}
	entries := make([]Entry, 0, len(doc.Entries))
	for _, it := range doc.Entries {
		e := Entry{
			ID:    strings.TrimSpace(it.ID),
			Title: strings.TrimSpace(it.Title),
		}
		for _, l := range it.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				e.Link = l.Href
				break
			}
		}
		if ts := it.Published; ts != "" {
			e.Published = parseFeedTime(ts)
		} else {
			e.Published = parseFeedTime(it.Updated)
		}
		if e.ID == "" {
			e.ID = e.Link
		}
		if e.ID == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02",
}

func parseFeedTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
