package ingest

import (
	"net"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	// On cloud storage hosts the tenant labels in front of the provider
	// domain identify the owner.
	cloudProviderDomains = []string{"amazonaws.com", "digitaloceanspaces.com"}

	ignorePackageTokens = []string{"com", "android", "free", "paid", "co"}

	// developerFirstPartyTokens only count as first party when the
	// developer's name contains them too.
	developerFirstPartyTokens = []string{"oculus", "facebook", "unity"}
)

// AppIdentity is what is known about the app that sent a flow.
type AppIdentity struct {
	Package   string
	Developer string
	PolicyURL string
}

// DomainResolver maps destination hosts to entity names.
type DomainResolver struct {
	domains    map[string]string
	firstParty string
}

// NewDomainResolver builds a resolver from an entity -> domains mapping.
// firstParty is the entity returned for the app's own hosts.
func NewDomainResolver(entities map[string][]string, firstParty string) *DomainResolver {
	r := &DomainResolver{domains: make(map[string]string), firstParty: firstParty}
	for entity, domains := range entities {
		for _, d := range domains {
			r.domains[normalizeHost(d)] = entity
		}
	}
	return r
}

// Len returns the number of known domains.
func (r *DomainResolver) Len() int {
	return len(r.domains)
}

// Resolve returns the entity behind host. First-party hosts resolve to the
// first-party entity. Otherwise the host and each parent domain are looked
// up in turn ("a.b.com", "b.com"); bare labels are never matched.
func (r *DomainResolver) Resolve(host string, app AppIdentity) (string, bool) {
	host = normalizeHost(host)
	if host == "" {
		return "", false
	}
	if IsFirstParty(host, app) {
		return r.firstParty, true
	}

	for d := host; strings.Contains(d, "."); d = d[strings.Index(d, ".")+1:] {
		if entity, ok := r.domains[d]; ok {
			if entity == app.Package {
				return r.firstParty, true
			}
			return entity, true
		}
	}
	return "", false
}

// IsFirstParty reports whether host belongs to the app's developer: the
// host shares a registered domain with the privacy policy URL, or it
// contains a distinctive token of the package name.
func IsFirstParty(host string, app AppIdentity) bool {
	host = normalizeHost(host)
	cmp := registeredDomain(host)
	for _, cloud := range cloudProviderDomains {
		if tenant, ok := strings.CutSuffix(host, "."+cloud); ok {
			cmp = tenant
			break
		}
	}
	if cmp == "" {
		return false
	}

	if app.PolicyURL != "" {
		if policy := registeredDomain(hostOf(app.PolicyURL)); policy != "" && policy == cmp {
			return true
		}
	}

	developer := strings.ToLower(app.Developer)
	for _, tok := range packageTokens(app.Package) {
		if slices.Contains(developerFirstPartyTokens, tok) && !strings.Contains(developer, tok) {
			continue
		}
		if strings.Contains(cmp, tok) {
			return true
		}
	}
	return false
}

// packageTokens splits a package name into lowercased labels, dropping
// generic and very short ones.
func packageTokens(pkg string) []string {
	var out []string
	for _, t := range strings.Split(pkg, ".") {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) <= 2 || slices.Contains(ignorePackageTokens, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// registeredDomain returns the registered domain (eTLD+1) of host, or ""
// for IP addresses and bare suffixes.
func registeredDomain(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return etld1
}

// hostOf extracts the host from a URL, tolerating a missing scheme.
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return normalizeHost(u.Hostname())
}
