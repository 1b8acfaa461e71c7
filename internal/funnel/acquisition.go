package funnel

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/leadline-labs/leadline/internal/domain"
)

const (
	maxUTMLength  = 200
	maxPathLength = 500
)

// NormalizeAcquisition trims and bounds visitor supplied tracking values.
// UTM values are lowercased, referrer and landing path lose their query
// strings, and values that do not parse are dropped.
func NormalizeAcquisition(a domain.Acquisition) domain.Acquisition {
	return domain.Acquisition{
		UTMSource:   normalizeUTM(a.UTMSource),
		UTMMedium:   normalizeUTM(a.UTMMedium),
		UTMCampaign: normalizeUTM(a.UTMCampaign),
		UTMTerm:     normalizeUTM(a.UTMTerm),
		UTMContent:  normalizeUTM(a.UTMContent),
		Referrer:    normalizeReferrer(a.Referrer),
		LandingPath: normalizeLandingPath(a.LandingPath),
		SessionID:   normalizeSessionID(a.SessionID),
		Outcome:     a.Outcome,
		RuleID:      a.RuleID,
	}
}

// AcquisitionFromQuery reads utm_* parameters, landing_path and session_id
// from a query string. The referrer comes from the query first, then from
// the supplied header value.
func AcquisitionFromQuery(q url.Values, referrerHeader string) domain.Acquisition {
	referrer := q.Get("referrer")
	if strings.TrimSpace(referrer) == "" {
		referrer = referrerHeader
	}
	return NormalizeAcquisition(domain.Acquisition{
		UTMSource:   q.Get("utm_source"),
		UTMMedium:   q.Get("utm_medium"),
		UTMCampaign: q.Get("utm_campaign"),
		UTMTerm:     q.Get("utm_term"),
		UTMContent:  q.Get("utm_content"),
		Referrer:    referrer,
		LandingPath: q.Get("landing_path"),
		SessionID:   q.Get("session_id"),
	})
}

func normalizeUTM(value string) string {
	return truncate(strings.ToLower(strings.TrimSpace(value)), maxUTMLength)
}

func normalizeReferrer(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	out := url.URL{Scheme: scheme, Host: strings.ToLower(u.Host), Path: u.Path}
	return truncate(out.String(), maxPathLength)
}

func normalizeLandingPath(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	u, err := url.Parse(value)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return ""
	}
	return truncate(u.Path, maxPathLength)
}

func normalizeSessionID(value string) string {
	value = strings.TrimSpace(value)
	if ValidateSessionID(value) != nil {
		return ""
	}
	return value
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}
