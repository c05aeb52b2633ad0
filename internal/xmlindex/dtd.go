// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package xmlindex

import (
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
)

const (
	// maxDTDSize bounds how much of a DTD file is read.
	maxDTDSize = 4 << 20

	// maxEntityValue bounds the expanded text of one entity.
	maxEntityValue = 1 << 10

	// maxEntityTotal bounds the expanded text of all entities in a table.
	maxEntityTotal = 1 << 20
)

var (
	commentRE = regexp.MustCompile(`(?s)<!--.*?-->`)

	// General entity declarations. Parameter entities (<!ENTITY % ...>) do
	// not define replacement text for the document and are skipped.
	entityRE = regexp.MustCompile(
		`<!ENTITY\s+(%\s+)?([A-Za-z_:][\w.:-]*)\s+` +
			`(?:"([^"]*)"|'([^']*)'|(SYSTEM|PUBLIC)\b[^>]*)\s*>`)

	charRefRE = regexp.MustCompile(`&(#x[0-9A-Fa-f]+|#[0-9]+|[A-Za-z_:][\w.:-]*);`)

	systemIDRE = regexp.MustCompile(`^DOCTYPE\s+\S+\s+(?:SYSTEM\s+|PUBLIC\s+(?:"[^"]*"|'[^']*')\s+)("[^"]*"|'[^']*')`)
)

// baseEntities returns the HTML/Latin-1 character entity table. It covers
// the DBLP accented-letter entities even when no DTD is available.
func baseEntities() map[string]string {
	return maps.Clone(xml.HTMLEntity)
}

// parseEntities adds every general entity declared in src to table.
// Internal entities get their literal value with references expanded.
// External (SYSTEM or PUBLIC) entities map to the empty string so that
// nothing is ever fetched or read on their behalf. It returns the number of
// entities declared.
//
// Expansion is bounded: a value longer than maxEntityValue, or a table whose
// values total more than maxEntityTotal, fails with apperr.ErrMalformedInput.
func parseEntities(src string, table map[string]string) (int, error) {
	src = commentRE.ReplaceAllString(src, "")
	total := 0
	for _, v := range table {
		total += len(v)
	}
	n := 0
	for _, m := range entityRE.FindAllStringSubmatch(src, -1) {
		if m[1] != "" {
			continue
		}
		name := m[2]
		value := ""
		if m[5] == "" {
			raw := m[3]
			if raw == "" {
				raw = m[4]
			}
			var ok bool
			if value, ok = expandRefs(raw, table, maxEntityValue); !ok {
				return n, fmt.Errorf("%w: entity %q expands beyond %d bytes", apperr.ErrMalformedInput, name, maxEntityValue)
			}
		}
		total += len(value) - len(table[name])
		if total > maxEntityTotal {
			return n, fmt.Errorf("%w: entity declarations expand beyond %d bytes", apperr.ErrMalformedInput, maxEntityTotal)
		}
		table[name] = value
		n++
	}
	return n, nil
}

// expandRefs replaces numeric character references and references to
// already known entities. Unknown references are kept verbatim. It reports
// false as soon as the result would exceed limit bytes.
func expandRefs(v string, table map[string]string, limit int) (string, bool) {
	if !strings.Contains(v, "&") {
		return v, len(v) <= limit
	}
	var b strings.Builder
	last := 0
	for _, loc := range charRefRE.FindAllStringIndex(v, -1) {
		b.WriteString(v[last:loc[0]])
		text := refText(v[loc[0]:loc[1]], table)
		if b.Len()+len(text) > limit {
			return "", false
		}
		b.WriteString(text)
		last = loc[1]
	}
	b.WriteString(v[last:])
	return b.String(), b.Len() <= limit
}

// refText is the replacement text of a single reference.
func refText(ref string, table map[string]string) string {
	body := ref[1 : len(ref)-1]
	if !strings.HasPrefix(body, "#") {
		if s, ok := table[body]; ok {
			return s
		}
		return ref
	}
	var (
		code uint64
		err  error
	)
	if strings.HasPrefix(body, "#x") || strings.HasPrefix(body, "#X") {
		code, err = strconv.ParseUint(body[2:], 16, 32)
	} else {
		code, err = strconv.ParseUint(body[1:], 10, 32)
	}
	if err != nil {
		return ref
	}
	return string(rune(code))
}

// loadDTD reads the entity declarations of a local DTD file into table.
func loadDTD(path string, table map[string]string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening DTD %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDTDSize))
	if err != nil {
		return 0, fmt.Errorf("reading DTD %s: %w", path, err)
	}
	return parseEntities(string(data), table)
}

// doctype is the part of a DOCTYPE directive the indexer acts on.
type doctype struct {
	systemID       string
	internalSubset string
}

func parseDoctype(directive string) (doctype, bool) {
	directive = strings.TrimSpace(directive)
	if !strings.HasPrefix(directive, "DOCTYPE") {
		return doctype{}, false
	}
	var dt doctype
	head := directive
	if i := strings.IndexByte(directive, '['); i >= 0 {
		if j := strings.LastIndexByte(directive, ']'); j > i {
			dt.internalSubset = directive[i+1 : j]
			head = directive[:i]
		}
	}
	if m := systemIDRE.FindStringSubmatch(strings.TrimSpace(head)); m != nil {
		dt.systemID = m[1][1 : len(m[1])-1]
	}
	return dt, true
}

// localDTDPath returns the file a DOCTYPE system id refers to when it names
// a plain .dtd file in dir. URLs, absolute paths and anything with a path
// separator are refused.
func localDTDPath(systemID, dir string) (string, bool) {
	if systemID == "" || strings.Contains(systemID, ":") {
		return "", false
	}
	if filepath.Base(systemID) != systemID || strings.ContainsAny(systemID, `/\`) {
		return "", false
	}
	if !strings.HasSuffix(strings.ToLower(systemID), ".dtd") {
		return "", false
	}
	return filepath.Join(dir, systemID), true
}
