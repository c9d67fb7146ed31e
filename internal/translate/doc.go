// Package translate converts between central's wire records and local
// domain rows, one Translator per syncable table.
//
// Translators are registered in a Registry and resolved by first match in
// model.IntegrationOrder. A translator returns (nil, nil) for records it
// does not own. Per-record failures are returned as *TranslationError and
// never abort a batch.
//
// Names and items are referenced through link tables. Pull translators keep
// the id the sender used and verify it resolves through the link; push
// translators resolve links back to the canonical id central expects.
package translate
