package gate

import "time"

// Specialists the built-in catalog escalates to.
const (
	SpecialistRebase     = "rebase"
	SpecialistLintFixer  = "lint-fixer"
	SpecialistBuildFixer = "build-fixer"
	SpecialistTestFixer  = "test-fixer"
	SpecialistDepFixer   = "dependency-fixer"
	SpecialistHardener   = "test-hardener"
	SpecialistContract   = "contract-reviewer"
)

// DefaultCatalog returns the built-in gate definitions.
func DefaultCatalog() []Definition {
	return []Definition{
		{
			Name: "freshness", Description: "branch is up to date with its base",
			Tier: TierPRFast, Required: true, MaxAttempts: 1, Timeout: 2 * time.Minute,
			Specialist: SpecialistRebase,
		},
		{
			Name: "format", Description: "formatter reports no changes",
			Tier: TierPRFast, Required: true, MaxAttempts: 2, Timeout: 2 * time.Minute,
			Specialist: SpecialistLintFixer,
		},
		{
			Name: "lint", Description: "linters pass with no new warnings",
			Tier: TierPRFast, Required: true, MaxAttempts: 2, Timeout: 5 * time.Minute,
			Prerequisites: []string{"format"}, Specialist: SpecialistLintFixer,
		},
		{
			Name: "build", Description: "workspace compiles",
			Tier: TierPRFast, Required: true, MaxAttempts: 2, Timeout: 10 * time.Minute,
			Prerequisites: []string{"freshness"}, Specialist: SpecialistBuildFixer,
		},
		{
			Name: "tests", Description: "test suite passes",
			Tier: TierPRFast, Required: true, MaxAttempts: 2, Timeout: 20 * time.Minute,
			Prerequisites: []string{"build"}, Specialist: SpecialistTestFixer,
		},
		{
			Name: "docs", Description: "documentation builds and links resolve",
			Tier: TierMergeGate, MaxAttempts: 1, Timeout: 5 * time.Minute,
		},
		{
			Name: "api-contract", Description: "public API changes are declared",
			Tier: TierMergeGate, MaxAttempts: 1, Timeout: 5 * time.Minute,
			Prerequisites: []string{"build"}, Specialist: SpecialistContract,
		},
		{
			Name: "migration", Description: "schema migrations apply and roll back",
			Tier: TierMergeGate, MaxAttempts: 1, Timeout: 10 * time.Minute,
			Prerequisites: []string{"build"},
		},
		{
			Name: "security", Description: "dependency and secret scanning",
			Tier: TierMergeGate, MaxAttempts: 1, Timeout: 10 * time.Minute,
			Specialist: SpecialistDepFixer, QuarantineOnSkip: true,
		},
		{
			Name: "benchmarks", Description: "no performance regressions",
			Tier: TierMergeGate, MaxAttempts: 0, Timeout: 30 * time.Minute,
			Prerequisites: []string{"tests"},
		},
		{
			Name: "mutation", Description: "mutation score above threshold",
			Tier: TierNightly, MaxAttempts: 0, Timeout: time.Hour,
			Prerequisites: []string{"tests"}, Specialist: SpecialistHardener,
		},
		{
			Name: "fuzz", Description: "fuzz targets find no crashes",
			Tier: TierNightly, MaxAttempts: 0, Timeout: time.Hour,
			Prerequisites: []string{"build"}, Specialist: SpecialistHardener, QuarantineOnSkip: true,
		},
	}
}

// Default returns a registry over DefaultCatalog.
func Default() *Registry {
	r, err := New(DefaultCatalog()...)
	if err != nil {
		panic("gate: built-in catalog invalid: " + err.Error())
	}
	return r
}
