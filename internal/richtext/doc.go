// Package richtext converts annotated provider text spans into presentation
// text. HTML is the panel's native output; Markdown backs text exports.
package richtext
