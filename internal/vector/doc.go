// Package vector defines embedding vectors, provenance-tagged records and
// the ordered collections the codec persists.
//
// A Collection fixes its dimension at creation. Every record appended to it
// must carry exactly that many values; records are never edited in place.
package vector
