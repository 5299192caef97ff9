// Package resolver turns a page's block list into an abstract RenderNode tree.
//
// The resolver walks blocks in source order, groups consecutive list items,
// recurses into container blocks through a ChildSource, re-levels headings
// under heading-like containers and isolates per-block failures as inline
// placeholders. Serialization to markup lives in package render.
package resolver
