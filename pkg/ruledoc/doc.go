// Package ruledoc decodes rule documents.
//
// A rule document is a mapping whose "type" key selects the rule kind; the
// remaining keys are the rule's snake_case fields:
//
//	rules:
//	  - type: spending-cap
//	    max_per_tx: "1000000000000000000"
//	    max_per_day: 5000000000000000000
//	  - type: multi-sig
//	    signers: [0xa1, 0xb2, 0xc3]
//	    required: 2
//
// An unrecognised type decodes to rules.Unknown, which always fails when
// evaluated, so a document written for a newer release is rejected at
// evaluation time instead of silently allowing actions. Unknown fields on a
// recognised type are decoding errors.
package ruledoc
