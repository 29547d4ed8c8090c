package httpapi

import (
	"net/http"
	"net/url"
	"strings"
)

// canonicalizePayto normalizes a payto URI so two callers naming the
// same destination with different casing or query-parameter order
// compare equal once stored: scheme and authority+path are lowercased,
// and query parameters (receiver-name among them) are re-encoded in
// sorted-key order. Bank-specific parameters read out of the URI
// elsewhere (amount, message) are left untouched by this function; the
// caller strips those before canonicalizing if they're not meant to be
// persisted as part of the destination.
func canonicalizePayto(raw string) (string, *apiError) {
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Scheme, "payto") {
		return "", newErr(http.StatusBadRequest, codeParameterMalformed, "malformed payto destination")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.ToLower(u.Path)
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}

// splitPaytoSubject separates a payto URI's canonicalized destination
// (matched exactly against an account's stored internal_payto) from
// its "message" and "amount" query parameters. Full payto URI grammar
// (BIC, IBAN validation) is out of scope — the bank treats the
// destination as opaque beyond extracting these two parameters and
// canonicalizing scheme/path/query-order.
func splitPaytoSubject(payto string) (base, subject, amount string, aerr *apiError) {
	u, err := url.Parse(payto)
	if err != nil || !strings.EqualFold(u.Scheme, "payto") {
		return "", "", "", newErr(http.StatusBadRequest, codeParameterMalformed, "malformed payto destination")
	}
	q := u.Query()
	subject = q.Get("message")
	amount = q.Get("amount")
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.ToLower(u.Path)
	q.Del("message")
	q.Del("amount")
	u.RawQuery = q.Encode()
	return u.String(), subject, amount, nil
}
