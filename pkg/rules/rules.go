// Package rules implements the exclusion predicates that remove paths from
// mirror consideration, and the limitations that narrow where an exclusion
// applies. Both are data-driven registries: adding a new kind of exclusion or
// limitation means appending one element to the relevant table, nothing else.
package rules

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// DateLayout is the format of the date carried by the before/after exclusion
// types.
const DateLayout = "01/02/2006"

// Limitation narrows where its owning exclusion applies. Input-scoped
// limitations are evaluated against the source path of the candidate,
// output-scoped ones against the destination path.
type Limitation struct {
	Code string `json:"code"`
	Data string `json:"data"`
}

// Exclusion is a single rule that removes matching paths from a mirror run.
// Data is interpreted according to Code. The optional Limitation further
// restricts when the exclusion fires.
type Exclusion struct {
	Code       string      `json:"code"`
	Data       string      `json:"data"`
	Limitation *Limitation `json:"limitation,omitempty"`
}

// LimitationScope states which side of the mirror a limitation inspects.
type LimitationScope int

const (
	// ScopeInput limitations are checked against the candidate's source path.
	ScopeInput LimitationScope = iota
	// ScopeOutput limitations are checked against the candidate's destination
	// path, and are not satisfied when no destination path is available.
	ScopeOutput
)

// ExclusionType defines one kind of exclusion. Matches receives the
// exclusion's data and the source path of the candidate.
type ExclusionType struct {
	Code               string
	MenuText           string
	AcceptsLimitations bool
	Matches            func(data, path string) bool
}

// LimitationType defines one kind of limitation. Satisfied receives the
// limitation's data and the path selected by Scope.
type LimitationType struct {
	Code      string
	Suffix    string // display suffix, e.g. "and all sub-directories"
	MenuText  string
	Scope     LimitationScope
	Satisfied func(data, path string) bool
}

// ExclusionTypes is the registry of all exclusion kinds. Menus, validation
// and the matching engine all iterate this table.
var ExclusionTypes = []ExclusionType{
	{
		Code:               "startswith",
		MenuText:           "Starts with some text",
		AcceptsLimitations: true,
		Matches: func(data, path string) bool {
			return strings.HasPrefix(util.BaseNameWithoutExt(path), data)
		},
	},
	{
		Code:               "endswith",
		MenuText:           "Ends with some text",
		AcceptsLimitations: true,
		Matches: func(data, path string) bool {
			return strings.HasSuffix(util.BaseNameWithoutExt(path), data)
		},
	},
	{
		Code:               "ext",
		MenuText:           "Specific file extension",
		AcceptsLimitations: true,
		Matches: func(data, path string) bool {
			// Data includes the leading dot, e.g. ".iso".
			return filepath.Ext(path) == data
		},
	},
	{
		Code:               "directory",
		MenuText:           "Specific directory path",
		AcceptsLimitations: false,
		Matches: func(data, path string) bool {
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				return false
			}
			return filepath.Clean(path) == filepath.Clean(data)
		},
	},
	{
		Code:               "file",
		MenuText:           "Specific filename",
		AcceptsLimitations: true,
		Matches: func(data, path string) bool {
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return false
			}
			return filepath.Base(path) == data
		},
	},
	{
		Code:               "dirname",
		MenuText:           "Specific directory name",
		AcceptsLimitations: true,
		Matches: func(data, path string) bool {
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				return false
			}
			return filepath.Base(path) == data
		},
	},
	{
		Code:               "before",
		MenuText:           "Files modified before a given date",
		AcceptsLimitations: true,
		Matches: func(data, path string) bool {
			cutoff, err := time.Parse(DateLayout, data)
			if err != nil {
				return false
			}
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return false
			}
			return info.ModTime().Before(cutoff)
		},
	},
	{
		Code:               "after",
		MenuText:           "Files modified after a given date",
		AcceptsLimitations: true,
		Matches: func(data, path string) bool {
			cutoff, err := time.Parse(DateLayout, data)
			if err != nil {
				return false
			}
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return false
			}
			return info.ModTime().After(cutoff)
		},
	},
}

// LimitationTypes is the registry of all limitation kinds.
var LimitationTypes = []LimitationType{
	{
		Code:     "dir",
		Suffix:   "only",
		MenuText: "Only the directory specified, no sub-directories",
		Scope:    ScopeInput,
		Satisfied: func(data, path string) bool {
			return filepath.Dir(filepath.Clean(path)) == filepath.Clean(data)
		},
	},
	{
		Code:     "sub",
		Suffix:   "and all sub-directories",
		MenuText: "The specified directory and all of its sub-directories",
		Scope:    ScopeInput,
		Satisfied: func(data, path string) bool {
			return strings.HasPrefix(filepath.Clean(path), filepath.Clean(data)+string(filepath.Separator))
		},
	},
	{
		Code:     "drive",
		Suffix:   "on this destination volume",
		MenuText: "Only when backing up to the specified destination volume",
		Scope:    ScopeOutput,
		Satisfied: func(data, path string) bool {
			return util.IsPathPrefix(data, path)
		},
	},
}

// ExclusionTypeByCode looks up an exclusion type; nil if the code is unknown.
func ExclusionTypeByCode(code string) *ExclusionType {
	for i := range ExclusionTypes {
		if ExclusionTypes[i].Code == code {
			return &ExclusionTypes[i]
		}
	}
	return nil
}

// LimitationTypeByCode looks up a limitation type; nil if the code is unknown.
func LimitationTypeByCode(code string) *LimitationType {
	for i := range LimitationTypes {
		if LimitationTypes[i].Code == code {
			return &LimitationTypes[i]
		}
	}
	return nil
}

// IsValidExclusionCode reports whether code names a registered exclusion type.
func IsValidExclusionCode(code string) bool {
	return ExclusionTypeByCode(code) != nil
}

// IsValidLimitationCode reports whether code names a registered limitation type.
func IsValidLimitationCode(code string) bool {
	return LimitationTypeByCode(code) != nil
}

// limitationGate evaluates the optional limitation on an exclusion whose base
// predicate already matched. With no limitation, or when the exclusion's type
// does not accept limitations, the gate passes. An output-scoped limitation
// with no destination path fails closed.
func limitationGate(excl Exclusion, exclType *ExclusionType, path, dstPath string) bool {
	if excl.Limitation == nil || !exclType.AcceptsLimitations {
		return true
	}
	limType := LimitationTypeByCode(excl.Limitation.Code)
	if limType == nil {
		return false
	}
	candidate := path
	if limType.Scope == ScopeOutput {
		if dstPath == "" {
			return false
		}
		candidate = dstPath
	}
	return limType.Satisfied(excl.Limitation.Data, candidate)
}

// ShouldExclude reports whether path is removed from mirror consideration by
// any of the given exclusions. Rules are checked in list order and the first
// one whose predicate and limitation gate both pass wins. dstPath may be
// empty when the caller has no destination context.
func ShouldExclude(exclusions []Exclusion, path, dstPath string) bool {
	for _, excl := range exclusions {
		exclType := ExclusionTypeByCode(excl.Code)
		if exclType == nil {
			continue
		}
		if !exclType.Matches(excl.Data, path) {
			continue
		}
		if limitationGate(excl, exclType, path, dstPath) {
			return true
		}
	}
	return false
}

// Describe renders an exclusion for menus and config listings,
// e.g. `ext ".iso" (limited to /src/media and all sub-directories)`.
func Describe(excl Exclusion) string {
	s := excl.Code + " \"" + excl.Data + "\""
	if excl.Limitation != nil {
		suffix := ""
		if lt := LimitationTypeByCode(excl.Limitation.Code); lt != nil {
			suffix = " " + lt.Suffix
		}
		s += " (limited to " + excl.Limitation.Data + suffix + ")"
	}
	return s
}
