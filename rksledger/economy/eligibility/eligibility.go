// Package eligibility decides which experiences may draw on UIMA credit.
// The check is a pure function over the domain's allow-lists.
package eligibility

import "slices"

// Config holds the domain-scoped allow-lists. Types and Settings are
// mandatory gates; Subjects and Genres restrict only when non-empty — an
// empty list means no restriction, not nothing eligible.
type Config struct {
	Types    []string `toml:"types"`
	Settings []string `toml:"settings"`
	Subjects []string `toml:"subjects"`
	Genres   []string `toml:"genres"`
}

// Params describes the experience under evaluation. Subject and Genre are
// optional; empty values skip their respective checks.
type Params struct {
	Type    string
	Setting string
	Subject string
	Genre   string
}

// Check reports whether an experience with the given attributes qualifies
// for UIMA funding under cfg.
func Check(cfg Config, params Params) bool {
	if !slices.Contains(cfg.Types, params.Type) {
		return false
	}
	if !slices.Contains(cfg.Settings, params.Setting) {
		return false
	}
	if params.Subject != "" && len(cfg.Subjects) > 0 && !slices.Contains(cfg.Subjects, params.Subject) {
		return false
	}
	if params.Genre != "" && len(cfg.Genres) > 0 && !slices.Contains(cfg.Genres, params.Genre) {
		return false
	}
	return true
}

// EligibleTypes returns the configured experience types.
func EligibleTypes(cfg Config) []string {
	return slices.Clone(cfg.Types)
}

// EligibleSettings returns the configured experience settings.
func EligibleSettings(cfg Config) []string {
	return slices.Clone(cfg.Settings)
}
