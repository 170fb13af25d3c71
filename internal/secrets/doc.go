// Package secrets redacts credentials from worker evidence before it is
// recorded in the ledger or published as a check.
//
// Detection uses the Gitleaks default rule set. A TOML allowlist in the
// Gitleaks format can exempt known-safe values:
//
//	[allowlist]
//	regexes = ['''fixture-token-[0-9]+''']
//	paths   = ['''testdata/''']
package secrets
