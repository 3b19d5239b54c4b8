package types

import (
	"fmt"
	"strings"
)

// Provider is the vendor a data source reports through.
// ProviderUnknown is stored as NULL.
type Provider string

const (
	ProviderUnknown    Provider = ""
	ProviderApple      Provider = "apple"
	ProviderGarmin     Provider = "garmin"
	ProviderPolar      Provider = "polar"
	ProviderSuunto     Provider = "suunto"
	ProviderWhoop      Provider = "whoop"
	ProviderOura       Provider = "oura"
	ProviderFitbit     Provider = "fitbit"
	ProviderSamsung    Provider = "samsung"
	ProviderGoogle     Provider = "google"
	ProviderWithings   Provider = "withings"
	ProviderCoros      Provider = "coros"
	ProviderUltrahuman Provider = "ultrahuman"
)

var knownProviders = map[Provider]bool{
	ProviderApple:      true,
	ProviderGarmin:     true,
	ProviderPolar:      true,
	ProviderSuunto:     true,
	ProviderWhoop:      true,
	ProviderOura:       true,
	ProviderFitbit:     true,
	ProviderSamsung:    true,
	ProviderGoogle:     true,
	ProviderWithings:   true,
	ProviderCoros:      true,
	ProviderUltrahuman: true,
}

// providerHints maps substrings of free-text source strings to providers.
// Checked in order; the first match wins.
var providerHints = []struct {
	needle   string
	provider Provider
}{
	{"com.apple", ProviderApple},
	{"apple", ProviderApple},
	{"healthkit", ProviderApple},
	{"garmin", ProviderGarmin},
	{"polar", ProviderPolar},
	{"suunto", ProviderSuunto},
	{"whoop", ProviderWhoop},
	{"oura", ProviderOura},
	{"fitbit", ProviderFitbit},
	{"samsung", ProviderSamsung},
	{"shealth", ProviderSamsung},
	{"google", ProviderGoogle},
	{"health connect", ProviderGoogle},
	{"healthconnect", ProviderGoogle},
	{"withings", ProviderWithings},
	{"coros", ProviderCoros},
	{"ultrahuman", ProviderUltrahuman},
}

// ParseProvider parses an explicit provider name.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !knownProviders[p] {
		return ProviderUnknown, fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// InferProvider guesses the provider from a free-text source string.
// Unrecognized sources yield ProviderUnknown.
func InferProvider(source string) Provider {
	lower := strings.ToLower(source)
	for _, hint := range providerHints {
		if strings.Contains(lower, hint.needle) {
			return hint.provider
		}
	}
	return ProviderUnknown
}

// ResolveProvider uses the explicit provider when it parses, otherwise infers
// one from source.
func ResolveProvider(explicit, source string) Provider {
	if explicit != "" {
		if p, err := ParseProvider(explicit); err == nil {
			return p
		}
	}
	return InferProvider(source)
}

// Providers returns every known provider sorted by name.
func Providers() []Provider {
	return []Provider{
		ProviderApple, ProviderCoros, ProviderFitbit, ProviderGarmin,
		ProviderGoogle, ProviderOura, ProviderPolar, ProviderSamsung,
		ProviderSuunto, ProviderUltrahuman, ProviderWhoop, ProviderWithings,
	}
}

// IsUnknown reports whether the provider is unset.
func (p Provider) IsUnknown() bool {
	return p == ProviderUnknown
}

// String returns the provider name or "unknown".
func (p Provider) String() string {
	if p == ProviderUnknown {
		return "unknown"
	}
	return string(p)
}
