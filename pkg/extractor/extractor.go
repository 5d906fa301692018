// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/telekom/sessionboot/pkg/metrics"
)

// SafetyDataSheet holds the extracted fields. The JSON keys are the ones the
// frontend reads, including the hSaezte and pSaezte spelling.
type SafetyDataSheet struct {
	Name          string   `json:"bezeichnung" yaml:"bezeichnung"`
	StorageClass  string   `json:"lagerklasse" yaml:"lagerklasse"`
	SignalWord    string   `json:"signalwort" yaml:"signalwort"`
	HazardPhrases []string `json:"hSaezte" yaml:"hSaezte"`
	SafetyPhrases []string `json:"pSaezte" yaml:"pSaezte"`
	GHS           []string `json:"ghs" yaml:"ghs"`
	WaterHazard   string   `json:"wgk" yaml:"wgk"`
}

var (
	ErrNameNotFound         = errors.New("could not extract bezeichnung")
	ErrSignalWordNotFound   = errors.New("could not extract signalwort")
	ErrStorageClassNotFound = errors.New("could not extract lagerklasse")
	ErrPhrasesNotFound      = errors.New("could not extract HP-Sätze")
	ErrGHSNotFound          = errors.New("could not extract GHS")
	ErrWaterHazardNotFound  = errors.New("could not extract WGK")
)

// storageClasses are the TRGS 510 storage classes. Longer classes follow the
// ones they contain, so matching runs from the end.
var storageClasses = []string{
	"1", "2A", "2B", "3", "4.1A", "4.1B", "4.2", "4.3", "5.1A", "5.1B", "5.1C", "5.2",
	"6.1A", "6.1B", "6.1C", "6.1D", "6.2", "7", "8A", "8B", "10", "11", "12", "13", "10-13",
}

var (
	phraseRegex       = regexp.MustCompile(`(?im)(\s?\+?\s?E?U?[HP][0-9]{3}[a-zA-Z]{0,2}){1,3}`)
	signalWordRegex   = regexp.MustCompile(`(?im)(signalwort|signalwörter)\r?\n?(.*)`)
	storageClassRegex = regexp.MustCompile(`(?im)lagerklasse(.*)`)
	nameRegex         = regexp.MustCompile(`(?im)((handels?)?name|produktidentifikator)(\s*)\n(.*)`)
	ghsRegex          = regexp.MustCompile(`(?im)ghs\s?-?[0-9]{2}`)
	waterHazardRegex  = regexp.MustCompile(`(?im)(Wassergefährdungsklasse|WGK)\s+?(\d)`)
)

var nameKeywords = strings.NewReplacer(
	"produktidentifikator", "",
	"produktname", "",
	"handelsname", "",
	":", "",
)

// Extract reads all fields from content. A field that cannot be found is
// logged; name, signal word and storage class then carry the error text so
// the form shows what is missing.
func Extract(content string, log *zap.SugaredLogger) *SafetyDataSheet {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	result := &SafetyDataSheet{}

	// every step writes its own fields
	steps := []struct {
		field string
		run   func(string, *SafetyDataSheet) error
		fail  func(*SafetyDataSheet, error)
	}{
		{field: "bezeichnung", run: extractName, fail: func(r *SafetyDataSheet, err error) { r.Name = err.Error() }},
		{field: "signalwort", run: extractSignalWord, fail: func(r *SafetyDataSheet, err error) { r.SignalWord = err.Error() }},
		{field: "lagerklasse", run: extractStorageClass, fail: func(r *SafetyDataSheet, err error) { r.StorageClass = err.Error() }},
		{field: "hpSaetze", run: extractPhrases},
		{field: "ghs", run: extractGHS},
		{field: "wgk", run: extractWaterHazard},
	}

	var wg sync.WaitGroup
	for _, step := range steps {
		wg.Go(func() {
			err := step.run(content, result)
			if err == nil {
				return
			}
			metrics.ExtractionFieldsMissing.WithLabelValues(step.field).Inc()
			log.Warnw("Failed to extract field", "field", step.field, "error", err)
			if step.fail != nil {
				step.fail(result, err)
			}
		})
	}
	wg.Wait()
	return result
}

// extractName takes the first non-empty line following a product name
// heading. The line may repeat the keyword, as in "Handelsname: Aceton", or
// be a heading of its own, in which case the search continues there.
func extractName(content string, result *SafetyDataSheet) error {
	for pos := 0; pos < len(content); {
		loc := nameRegex.FindStringSubmatchIndex(content[pos:])
		if loc == nil {
			break
		}
		value := content[pos+loc[8] : pos+loc[9]]
		if candidate := strings.TrimSpace(nameKeywords.Replace(strings.ToLower(value))); candidate != "" {
			result.Name = candidate
			return nil
		}
		pos += loc[8]
	}
	return ErrNameNotFound
}

func extractSignalWord(content string, result *SafetyDataSheet) error {
	for _, match := range signalWordRegex.FindAllString(content, -1) {
		match = strings.ToLower(match)
		switch {
		case strings.Contains(match, "gefahr"):
			result.SignalWord = "Gefahr"
			return nil
		case strings.Contains(match, "achtung"):
			result.SignalWord = "Achtung"
			return nil
		}
	}
	return ErrSignalWordNotFound
}

func extractStorageClass(content string, result *SafetyDataSheet) error {
	for _, match := range storageClassRegex.FindAllString(content, -1) {
		// "Lagerklasse (TRGS 510)" names the regulation, not a class
		match = strings.ReplaceAll(match, "510", "")
		match = strings.ReplaceAll(match, " ", "")
		for i := len(storageClasses) - 1; i >= 0; i-- {
			if strings.Contains(match, storageClasses[i]) {
				result.StorageClass = storageClasses[i]
				return nil
			}
		}
	}
	return ErrStorageClassNotFound
}

// extractPhrases collects hazard (H) and precautionary (P) statements,
// including combinations such as P303+P361+P353.
func extractPhrases(content string, result *SafetyDataSheet) error {
	matches := phraseRegex.FindAllString(content, -1)
	if len(matches) == 0 {
		return ErrPhrasesNotFound
	}
	for _, phrase := range matches {
		phrase = strings.TrimSpace(phrase)
		if strings.ContainsAny(phrase, "Hh") {
			result.HazardPhrases = append(result.HazardPhrases, phrase)
		} else {
			result.SafetyPhrases = append(result.SafetyPhrases, phrase)
		}
	}
	result.HazardPhrases = sortedUnique(result.HazardPhrases)
	result.SafetyPhrases = sortedUnique(result.SafetyPhrases)
	return nil
}

func extractGHS(content string, result *SafetyDataSheet) error {
	matches := ghsRegex.FindAllString(content, -1)
	if len(matches) == 0 {
		return ErrGHSNotFound
	}
	for _, match := range matches {
		result.GHS = append(result.GHS, strings.TrimSpace(match))
	}
	return nil
}

// extractWaterHazard keeps the last class mentioned; section 15 comes after
// any earlier reference.
func extractWaterHazard(content string, result *SafetyDataSheet) error {
	matches := waterHazardRegex.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return ErrWaterHazardNotFound
	}
	result.WaterHazard = matches[len(matches)-1][2]
	return nil
}

// sortedUnique sorts phrases and drops repeated ones. It returns nil for an
// empty input.
func sortedUnique(phrases []string) []string {
	if len(phrases) == 0 {
		return nil
	}
	phrases = slices.Clone(phrases)
	slices.Sort(phrases)
	return slices.Compact(phrases)
}
