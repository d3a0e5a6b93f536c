package fallback

import (
	"reflect"
	"testing"
)

func TestChainScandinavian(t *testing.T) {
	r := Default()

	want := []string{"nb", "no", "da", "nn", "sv", "en"}
	if got := r.Chain("nb"); !reflect.DeepEqual(got, want) {
		t.Errorf("Chain(nb) = %v, want %v", got, want)
	}
}

func TestChainGermanRegions(t *testing.T) {
	r := Default()

	want := []string{"de", "de-AT", "de-CH", "nl", "en"}
	if got := r.Chain("de"); !reflect.DeepEqual(got, want) {
		t.Errorf("Chain(de) = %v, want %v", got, want)
	}
}

func TestChainUnknownLanguage(t *testing.T) {
	r := Default()

	want := []string{"ja", "en"}
	if got := r.Chain("ja"); !reflect.DeepEqual(got, want) {
		t.Errorf("Chain(ja) = %v, want %v", got, want)
	}
}

func TestChainFinalAppearsOnce(t *testing.T) {
	r := Default()

	want := []string{"en"}
	if got := r.Chain("en"); !reflect.DeepEqual(got, want) {
		t.Errorf("Chain(en) = %v, want %v", got, want)
	}
}

func TestChainEmptyLanguage(t *testing.T) {
	r := Default()

	want := []string{"en"}
	if got := r.Chain(""); !reflect.DeepEqual(got, want) {
		t.Errorf("Chain(\"\") = %v, want %v", got, want)
	}
}

func TestResolvePrefersExactLanguage(t *testing.T) {
	r := Default()
	labels := map[string]string{"nb": "potet", "da": "kartoffel", "en": "potato"}

	got, ok := r.Resolve(labels, "nb")
	if !ok || got != "potet" {
		t.Errorf("Resolve(nb) = %q (ok=%v), want potet", got, ok)
	}
}

func TestResolveWalksChain(t *testing.T) {
	r := Default()

	// Swedish is missing; Norwegian stands in before English.
	labels := map[string]string{"no": "potet", "en": "potato"}
	got, ok := r.Resolve(labels, "sv")
	if !ok || got != "potet" {
		t.Errorf("Resolve(sv) = %q (ok=%v), want potet", got, ok)
	}
}

func TestResolveFinalFallback(t *testing.T) {
	r := Default()

	labels := map[string]string{"en": "potato", "fr": "pomme de terre"}
	got, ok := r.Resolve(labels, "pl")
	if !ok || got != "potato" {
		t.Errorf("Resolve(pl) = %q (ok=%v), want potato", got, ok)
	}
}

func TestResolveNothingPresent(t *testing.T) {
	r := Default()

	labels := map[string]string{"fr": "pomme de terre"}
	if got, ok := r.Resolve(labels, "ru"); ok {
		t.Errorf("Resolve(ru) = %q, want miss", got)
	}
	if _, ok := r.Resolve(nil, "en"); ok {
		t.Error("Resolve over nil labels reported ok")
	}
}

func TestResolveSkipsEmptyLabels(t *testing.T) {
	r := Default()

	labels := map[string]string{"de": "", "nl": "aardappel"}
	got, ok := r.Resolve(labels, "de")
	if !ok || got != "aardappel" {
		t.Errorf("Resolve(de) = %q (ok=%v), want aardappel", got, ok)
	}
}

func TestCustomChainsAndFinal(t *testing.T) {
	r := New(map[string][]string{"qa": {"qb"}}, "qz")

	want := []string{"qa", "qb", "qz"}
	if got := r.Chain("qa"); !reflect.DeepEqual(got, want) {
		t.Errorf("Chain(qa) = %v, want %v", got, want)
	}

	labels := map[string]string{"qz": "zed"}
	got, ok := r.Resolve(labels, "qa")
	if !ok || got != "zed" {
		t.Errorf("Resolve(qa) = %q (ok=%v), want zed", got, ok)
	}
}
