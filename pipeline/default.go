package pipeline

// DefaultImage is the toolchain image jobs run in when the document
// doesn't name one.
const DefaultImage = "rust:1.79"

// Default returns the built-in verification pipeline: a build job and
// a static analysis job, both watching pushes and pull requests
// against main. The rule lists are long on purpose. Spelling every
// rule out here keeps the policy reviewable as plain data instead of
// burying it in an analyzer config inside the repo under test.
func Default() Pipeline {
	return Pipeline{
		Name: "verify",
		Trigger: Trigger{
			Events: []string{EventPush, EventPullRequest},
			Branch: "main",
		},
		Env: map[string]string{
			"CARGO_TERM_COLOR": "always",
		},
		Policy: RulePolicy{
			Deny: []string{
				"warnings",
				"clippy::unwrap_used",
				"clippy::expect_used",
				"clippy::panic",
				"clippy::todo",
				"clippy::unimplemented",
				"clippy::dbg_macro",
				"clippy::mem_forget",
				"clippy::exit",
				"clippy::float_cmp",
				"clippy::lossy_float_literal",
			},
			Warn: []string{
				"clippy::module_name_repetitions",
				"clippy::must_use_candidate",
				"clippy::similar_names",
				"clippy::too_many_lines",
				"clippy::cognitive_complexity",
				"clippy::use_self",
				"clippy::redundant_closure_for_method_calls",
				"clippy::items_after_statements",
				"clippy::if_not_else",
				"clippy::single_match_else",
				"clippy::match_same_arms",
				"clippy::map_unwrap_or",
				"clippy::needless_pass_by_value",
				"clippy::semicolon_if_nothing_returned",
				"clippy::uninlined_format_args",
				"clippy::doc_markdown",
				"clippy::missing_errors_doc",
				"clippy::missing_panics_doc",
				"clippy::explicit_iter_loop",
				"clippy::filter_map_next",
				"clippy::inefficient_to_string",
				"clippy::option_if_let_else",
				"clippy::unnested_or_patterns",
				"clippy::unused_self",
				"clippy::wildcard_imports",
				"clippy::enum_glob_use",
				"clippy::trivially_copy_pass_by_ref",
				"clippy::default_trait_access",
				"clippy::large_types_passed_by_value",
				"clippy::manual_let_else",
				"clippy::range_plus_one",
				"clippy::redundant_else",
				"clippy::struct_excessive_bools",
				"clippy::shadow_unrelated",
				"clippy::indexing_slicing",
			},
		},
		Jobs: []Job{
			{
				Name:  "build",
				Image: DefaultImage,
				Steps: []Step{
					{Name: "checkout", Checkout: true},
					{Name: "compile", Run: "cargo build --verbose"},
					{Name: "test", Run: "cargo test --verbose"},
				},
			},
			{
				Name:  "clippy_check",
				Image: DefaultImage,
				Steps: []Step{
					{Name: "checkout", Checkout: true},
					{
						Name: "lint",
						Lint: &LintStep{
							AllTargets:  true,
							AllFeatures: true,
						},
					},
				},
			},
		},
	}
}
