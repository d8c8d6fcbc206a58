package env

// Flags describes the run mode detected from the environment.
type Flags struct {
	IsCI               bool
	CollectingCoverage bool
	RepoSlug           string
}

// DetectFlags reads CI, coverage and repository markers from vars.
func DetectFlags(vars Var) Flags {
	slug := vars["GITHUB_REPOSITORY"]
	if slug == "" {
		slug = vars["TRAVIS_REPO_SLUG"]
	}
	return Flags{
		IsCI:               vars["CI"] != "",
		CollectingCoverage: vars["GOCOVERDIR"] != "" || vars["HARNESS_COVERAGE"] == "instrumented",
		RepoSlug:           slug,
	}
}
