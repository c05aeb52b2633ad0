// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package coauthor

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// RequestFile is the on-disk form of a pairs query, optionally with the
// result it produced. A saved file can be re-run as is.
type RequestFile struct {
	Request Request  `yaml:"request"`
	Result  *Result  `yaml:"result,omitempty"`
	Summary *Summary `yaml:"summary,omitempty"`
}

// Summary stores result statistics and a timestamp.
type Summary struct {
	PairCount     int       `yaml:"pair_count"`
	NonEmptyPairs int       `yaml:"non_empty_pairs"`
	Publications  int       `yaml:"publications"`
	Timestamp     time.Time `yaml:"timestamp"`
}

// ReadRequestFile loads a request file. exact_base_match defaults to true
// when the file does not set it.
func ReadRequestFile(path string) (*RequestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	rf := RequestFile{Request: Request{ExactBaseMatch: true}}
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing request file: %w", err)
	}
	return &rf, nil
}

// WriteResultFile saves req and res to path.
func WriteResultFile(path string, req Request, res *Result) error {
	rf := RequestFile{Request: req, Result: res}
	if res != nil {
		s := &Summary{PairCount: res.PairCount, Timestamp: time.Now().UTC()}
		for _, p := range res.Pairs {
			if p.Count > 0 {
				s.NonEmptyPairs++
			}
			s.Publications += p.Count
		}
		rf.Summary = s
	}

	data, err := yaml.Marshal(&rf)
	if err != nil {
		return fmt.Errorf("marshaling result file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
