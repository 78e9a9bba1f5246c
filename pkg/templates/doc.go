// Package templates manages named, reusable rule bundles and composes them
// into policies.
//
// A Registry is owned by the application; there is no package-level
// registry. It always holds the built-in templates (read-only,
// daily-spending-limit, business-hours, treasury-multisig,
// high-value-approval, dao-governed), which can be neither overwritten nor
// removed. Custom templates are added with Define, loaded from YAML with
// LoadFile or LoadDir, and hot-reloaded with a Watcher.
//
// Build turns a template into a Policy. Overrides may rename the policy,
// fill in declared template parameters, append rules and set an expiry;
// they never remove the template's rules.
//
//	reg := templates.NewRegistry()
//	pol, err := reg.Build("treasury-multisig", templates.Overrides{
//		Name:   "ops-treasury",
//		Params: map[string]any{"signers": []string{"0xa1", "0xb2", "0xc3"}},
//	})
//
// # Thread Safety
//
// Templates are immutable once registered and stored by pointer, so a
// reader sees either the old or the new template, never a partial one. Get
// returns copies.
package templates
