// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// PublicationTags is the fixed tag vocabulary of DBLP records.
var PublicationTags = map[string]bool{
	"article":       true,
	"inproceedings": true,
	"proceedings":   true,
	"book":          true,
	"incollection":  true,
	"phdthesis":     true,
	"mastersthesis": true,
	"www":           true,
}

// Publication is one bibliographic record extracted from the corpus.
type Publication struct {
	// ID is assigned by the store on insert.
	ID int64 `json:"id" yaml:"id"`

	// Title is whitespace-normalized and never empty.
	Title string `json:"title" yaml:"title"`

	// Year is nil when the record has no parseable year.
	Year *int `json:"year" yaml:"year"`

	// Venue is the journal name, else the booktitle.
	Venue *string `json:"venue" yaml:"venue"`

	// PubType is the record's tag name (article, inproceedings, ...).
	PubType string `json:"pub_type" yaml:"pub_type"`

	// RawXML is the re-serialized record element.
	RawXML string `json:"raw_xml,omitempty" yaml:"raw_xml,omitempty"`

	// Authors lists author names in document order, duplicates preserved.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`
}

// Author is a globally unique normalized name.
type Author struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Normalize collapses all runs of whitespace to single spaces and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
