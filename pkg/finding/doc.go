// Package finding provides the vulnerability finding types shared by
// every check, the report aggregator and the session store.
//
// A Finding is produced by exactly one check and is never mutated after
// the check returns it. Checks build findings with New:
//
//	f := finding.New("missing-hsts", "Missing HSTS Header", finding.Medium,
//	    "Strict-Transport-Security is not set")
//	f.Evidence = "GET https://example.com/ -> 200"
package finding
